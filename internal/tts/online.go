package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/v12510/GlassesVisionSystem/internal/config"
)

const (
	defaultSynthTimeout = 5 * time.Second
	maxAudioResponse    = 32 << 20
)

// synthRequest is the synthesis request body.
type synthRequest struct {
	Text    string  `json:"text"`
	Voice   string  `json:"voice"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
	Emotion string  `json:"emotion,omitempty"`
	Format  string  `json:"format"`
}

// OnlineEngine synthesizes speech through a REST voice service that
// returns WAV audio.
type OnlineEngine struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewOnlineEngine builds the REST client. The API key comes from the
// environment, never from YAML.
func NewOnlineEngine(cfg config.TTSConfig, apiKey string) *OnlineEngine {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = defaultSynthTimeout
	}
	return &OnlineEngine{
		endpoint: cfg.Endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *OnlineEngine) Name() string { return "online" }

func (e *OnlineEngine) Synthesize(ctx context.Context, text string, profile VoiceProfile) ([]float32, int, error) {
	if e.endpoint == "" {
		return nil, 0, errors.New("online tts endpoint not configured")
	}

	body, err := json.Marshal(synthRequest{
		Text:    text,
		Voice:   profile.VoiceID,
		Speed:   profile.Speed,
		Pitch:   profile.Pitch,
		Emotion: profile.Emotion,
		Format:  "wav",
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encoding synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("building synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("online synthesis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("online synthesis returned %d: %s", resp.StatusCode, snippet)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioResponse))
	if err != nil {
		return nil, 0, fmt.Errorf("reading synthesis response: %w", err)
	}
	pcm, rate, err := decodeWAV(audio)
	if err != nil {
		return nil, 0, fmt.Errorf("decoding synthesis response: %w", err)
	}
	return pcm, rate, nil
}
