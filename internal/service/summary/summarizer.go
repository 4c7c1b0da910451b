// Package summary condenses a finished interview into a profile and tags.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/observability/logging"
	"ai-interview-voice-service/internal/service/chat"
)

// MaxTags caps the number of tags kept.
const MaxTags = 10

var ErrNoMessages = errors.New("messages array is required")

const profilePrompt = `你将阅读一份中文访谈记录，该访谈内容由你与一位真实用户之间进行，内容涉及其成长经历、教育背景、职业路径、项目经验、能力倾向、价值观、表达风格等多个方面。你的任务是基于该访谈内容，全面总结这个人的人格、能力、表达特征与事实性经历，形成一份用于构建其“数字人”的高保真画像。

请遵守以下规则：

【总体要求】
1. 所有内容必须严格基于访谈内容总结，不得编造、不补充未被提及的信息。
2. 总结应结构清晰，条理分明，尤其在事实经历部分要写得完整详尽，时间顺序清楚，细节不遗漏。
3. 可合理进行内容归类和推理，但所有信息必须有访谈中明确依据。
4. 用语要准确、中立，既可引用原话，也可进行结构化总结。

【输出结构】
1. 全面历史经历与背景（按时间顺序，标出时间点、因果关系与当时情绪反应）
2. 当前职业状态与项目聚焦
3. 技能与能力倾向
4. 思维与表达方式（结构习惯、用词方式、句法与节奏、情绪风格、个性化语言标记）
5. 情绪表达与行为风格
6. 价值观与信念体系
7. 社交与人际互动
8. 数字人模拟表达提示（模拟语气、常用开场句式、建议保留的口头表达）

请严格按上述格式输出完整内容，特别是第1节必须尽量详细，不遗漏访谈中出现过的任何关键事件、阶段或转折点。`

const tagsPrompt = `请基于以下访谈总结内容，生成不超过10个简洁的标签，用来描述这个人的特征。

要求：
1. 标签应该简洁明了，每个标签1-3个字
2. 包含但不限于：性格特征、能力特长、职业方向、兴趣爱好、价值观倾向等
3. 必须严格基于总结内容，不能编造
4. 只返回标签列表，用中文逗号分隔
5. 数量控制在10个以内

示例格式：技术专家,创业者,理性思考,注重细节,团队协作`

// Result is a generated summary.
type Result struct {
	Summary      string    `json:"summary"`
	Tags         []string  `json:"tags"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
}

// Summarizer runs the two completion calls.
type Summarizer struct {
	completer chat.Completer
	log       zerolog.Logger
	now       func() time.Time
}

func New(c chat.Completer) *Summarizer {
	return &Summarizer{
		completer: c,
		log:       logging.WithComponent("summary"),
		now:       time.Now,
	}
}

// Summarize produces the profile and, best effort, its tags. A tag failure
// is logged and yields no tags.
func (s *Summarizer) Summarize(ctx context.Context, msgs []models.ChatMessage) (Result, error) {
	if len(msgs) == 0 {
		return Result{}, ErrNoMessages
	}

	s.log.Info().Int("messages", len(msgs)).Msg("Generating interview summary")
	text, err := s.completer.CreateCompletion(ctx, chat.Request{
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: profilePrompt},
			{Role: models.RoleUser, Content: "请根据以下采访对话内容进行总结：\n\n" + Transcript(msgs)},
		},
		Temperature: chat.Temperature(0.3),
		MaxTokens:   1500,
	})
	if err != nil {
		return Result{}, fmt.Errorf("summary API error: %w", err)
	}

	tags, err := s.completer.CreateCompletion(ctx, chat.Request{
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: tagsPrompt},
			{Role: models.RoleUser, Content: "请基于以下访谈总结生成标签：\n\n" + text},
		},
		Temperature: chat.Temperature(0.2),
		MaxTokens:   200,
	})
	var parsed []string
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to generate tags, continuing without tags")
	} else {
		parsed = ParseTags(tags)
	}

	return Result{
		Summary:      text,
		Tags:         parsed,
		Timestamp:    s.now().UTC(),
		MessageCount: len(msgs),
	}, nil
}

// Transcript renders the conversation with 记者 for the user and AI for the
// assistant.
func Transcript(msgs []models.ChatMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := "AI"
		if m.Role == models.RoleUser {
			speaker = "记者"
		}
		parts = append(parts, speaker+"："+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// ParseTags splits on ASCII and full-width commas, drops blanks and keeps
// at most MaxTags.
func ParseTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == '\n'
	})
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := strings.TrimSpace(f); t != "" {
			tags = append(tags, t)
		}
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}
