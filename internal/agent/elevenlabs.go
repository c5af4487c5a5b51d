package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Speech defaults, matching the ElevenLabs documentation examples.
const (
	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID           = "21m00Tcm4TlvDq8ikWAM"
	DefaultVoiceModel        = "eleven_multilingual_v2"

	speechMimeType = "audio/mpeg"
	maxAudioBytes  = 8 << 20
)

// VoiceSettings shapes the synthesized voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

// ElevenLabsConfig configures the text-to-speech client.
type ElevenLabsConfig struct {
	APIKey   string
	VoiceID  string
	ModelID  string
	BaseURL  string
	Settings VoiceSettings
}

// ElevenLabs implements [Synthesizer] with the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	httpClient *http.Client
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	settings   VoiceSettings
}

// NewElevenLabs creates a synthesizer. A nil httpClient selects
// http.DefaultClient; timeouts come from the caller's context.
func NewElevenLabs(httpClient *http.Client, cfg ElevenLabsConfig) *ElevenLabs {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	e := &ElevenLabs{
		httpClient: httpClient,
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		modelID:    cfg.ModelID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		settings:   cfg.Settings,
	}
	if e.voiceID == "" {
		e.voiceID = DefaultVoiceID
	}
	if e.modelID == "" {
		e.modelID = DefaultVoiceModel
	}
	if e.baseURL == "" {
		e.baseURL = DefaultElevenLabsBaseURL
	}
	return e
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Synthesize renders text as MP3 audio.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	body, err := json.Marshal(speechRequest{Text: text, ModelID: e.modelID, VoiceSettings: e.settings})
	if err != nil {
		return nil, "", fmt.Errorf("agent/elevenlabs: marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, url.PathEscape(e.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("agent/elevenlabs: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", speechMimeType)
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("agent/elevenlabs: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", readProviderError(resp)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("agent/elevenlabs: reading audio: %w", err)
	}
	if len(audio) > maxAudioBytes {
		return nil, "", fmt.Errorf("agent/elevenlabs: audio exceeds %d bytes", maxAudioBytes)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("agent/elevenlabs: empty audio response")
	}
	return audio, speechMimeType, nil
}

// ProviderError is a non-200 answer from an external service.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("agent: provider returned %d: %s", e.StatusCode, e.Message)
}

// readProviderError extracts a readable message from an error body. The
// speech API answers {"detail":{"status":"...","message":"..."}}; anything
// else is reported verbatim, capped at 4 KiB.
func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wireError struct {
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Detail.Message != "" {
		return &ProviderError{StatusCode: resp.StatusCode, Message: wireError.Detail.Message}
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
