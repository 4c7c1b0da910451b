package conversation

import (
	"context"
	"strings"
	"time"

	"ai-interview-voice-service/internal/models"
	"ai-interview-voice-service/internal/service/turn"
	"ai-interview-voice-service/internal/state"
)

const summaryFailedPrefix = "生成采访总结失败: "

// summarize closes the interview: it stops listening, asks for the
// profile summary, reveals it as a final assistant message, hands it to
// persistence and ends the conversation. The caller holds the turn flag.
func (o *Orchestrator) summarize(ctx context.Context) {
	o.stopListening()
	o.store.SetProcessing(true)

	id := o.store.ConversationID()
	msgs := toChat(o.store.Messages())

	res, err := o.summarizer.Summarize(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.errs.Handle(err, "Interview Summary")
		o.store.SetError(summaryFailedPrefix + o.errs.UserMessage(err))
		o.transition(turn.PhaseIdle)
		return
	}

	o.store.SetSpeaking(true)
	o.store.StartStreamingMessage(state.RoleAssistant)
	revealErr := reveal(ctx, o.cfg.Reveal, o.cfg.SummaryHeading+res.Summary, o.store.AppendToStreamingMessage)
	o.store.CompleteStreamingMessage()
	o.store.SetSpeaking(false)
	if revealErr != nil {
		return
	}

	info := o.Identity()
	now := o.now()
	if o.persister != nil && info.Valid() {
		o.persister.Submit(persistAgent(info, res.Summary, now))
	} else {
		o.logger().Info().Msg("No interviewee identity, summary not persisted")
	}

	if o.events != nil {
		ev := models.SummaryEvent{
			ConversationID: id,
			Name:           info.Name,
			Email:          info.Email,
			Summary:        res.Summary,
			Tags:           res.Tags,
			MessageCount:   res.MessageCount,
			Timestamp:      now.UnixMilli(),
		}
		o.spawn(func() {
			pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.events.PublishSummary(pctx, ev); err != nil {
				o.logger().Warn().Err(err).Msg("Failed to publish summary")
			}
		})
	}

	o.setWantListen(false)
	o.store.EndConversation()
	o.transition(turn.PhaseEnded)
	o.metrics.RecordConversationEnd("completed")
	o.logger().Info().Int("tags", len(res.Tags)).Msg("Interview completed")
}

func trimText(s string) string {
	return strings.TrimSpace(s)
}
