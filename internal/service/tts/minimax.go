package tts

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-interview-voice-service/internal/errorhandler"
	"ai-interview-voice-service/internal/observability/metrics"
)

// MinimaxClient calls the Minimax t2a_v2 endpoint in non-streaming mode.
type MinimaxClient struct {
	HTTPClient *http.Client
	BaseURL    string
	GroupID    string
	APIKey     string
	Model      string
	VoiceID    string
	Metrics    *metrics.Metrics
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type minimaxRequest struct {
	Model        string       `json:"model"`
	Text         string       `json:"text"`
	Stream       bool         `json:"stream"`
	VoiceSetting voiceSetting `json:"voice_setting"`
	AudioSetting audioSetting `json:"audio_setting"`
}

type minimaxResponse struct {
	Data *struct {
		Audio string `json:"audio"`
	} `json:"data"`
	BaseResp *struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

func NewMinimaxClient(baseURL, groupID, apiKey string, timeout time.Duration) *MinimaxClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MinimaxClient{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		GroupID:    groupID,
		APIKey:     apiKey,
		Model:      "speech-02-turbo",
		VoiceID:    "male-qn-qingse",
		Metrics:    metrics.DefaultMetrics,
	}
}

// Synthesize returns mp3 audio for text.
func (c *MinimaxClient) Synthesize(ctx context.Context, text string) (audio Audio, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	if c.GroupID == "" || c.APIKey == "" {
		return Audio{}, fmt.Errorf("Minimax TTS credentials: %w", errorhandler.ErrNotConfigured)
	}
	start := time.Now()
	defer func() { c.Metrics.ObserveProvider("minimax", "tts", start, err) }()

	body, err := json.Marshal(minimaxRequest{
		Model:        c.Model,
		Text:         text,
		VoiceSetting: voiceSetting{VoiceID: c.VoiceID, Speed: 1.0, Vol: 1.0},
		AudioSetting: audioSetting{SampleRate: 32000, Bitrate: 128000, Format: "mp3", Channel: 1},
	})
	if err != nil {
		return Audio{}, err
	}

	endpoint := c.BaseURL + "/v1/t2a_v2?GroupId=" + url.QueryEscape(c.GroupID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("tts network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, fmt.Errorf("TTS API error: %d - %s", resp.StatusCode, string(b))
	}

	var mr minimaxResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return Audio{}, fmt.Errorf("TTS API error: invalid response: %w", err)
	}
	if mr.BaseResp != nil && mr.BaseResp.StatusCode != 0 {
		return Audio{}, fmt.Errorf("TTS API error: %d - %s", mr.BaseResp.StatusCode, mr.BaseResp.StatusMsg)
	}
	if mr.Data == nil || mr.Data.Audio == "" {
		return Audio{}, fmt.Errorf("no audio data received from TTS service")
	}

	data, err := hex.DecodeString(mr.Data.Audio)
	if err != nil {
		return Audio{}, fmt.Errorf("TTS API error: bad audio payload: %w", err)
	}
	return Audio{Data: data, MIMEType: "audio/mpeg"}, nil
}
