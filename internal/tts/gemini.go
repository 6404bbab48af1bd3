package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultGeminiTTSModel = "gemini-2.5-flash-preview-tts"
	defaultGeminiVoice    = "Kore"
	geminiEndpoint        = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiEngine synthesizes speech with a one-shot generateContent call in
// AUDIO response modality. The response carries the clip as base64 PCM16
// mono at 24 kHz, which is returned unchanged.
type GeminiEngine struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Voice      string
}

func NewGeminiEngine(apiKey, model, voice string) *GeminiEngine {
	if model == "" {
		model = defaultGeminiTTSModel
	}
	if voice == "" {
		voice = defaultGeminiVoice
	}
	return &GeminiEngine{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Voice:      voice,
	}
}

type speakPart struct {
	Text string `json:"text,omitempty"`
}

type speakContent struct {
	Parts []speakPart `json:"parts"`
}

type speakRequest struct {
	Contents         []speakContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
		SpeechConfig       struct {
			VoiceConfig struct {
				PrebuiltVoiceConfig struct {
					VoiceName string `json:"voiceName"`
				} `json:"prebuiltVoiceConfig"`
			} `json:"voiceConfig"`
		} `json:"speechConfig"`
	} `json:"generationConfig"`
}

type speakResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Synthesize requests audio for text and returns the base64 payload. Empty
// input returns an empty result without calling the provider.
func (e *GeminiEngine) Synthesize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	if e.APIKey == "" {
		return "", fmt.Errorf("gemini tts: api key missing")
	}

	var body speakRequest
	body.Contents = []speakContent{{Parts: []speakPart{{Text: text}}}}
	body.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	body.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = e.Voice

	reqBody, _ := json.Marshal(body)
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", geminiEndpoint, e.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-goog-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gemini tts: status=%d body=%s", resp.StatusCode, string(b))
	}
	var sr speakResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("gemini tts: decode response: %w", err)
	}
	if len(sr.Candidates) == 0 || len(sr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini tts: empty candidates")
	}
	data := sr.Candidates[0].Content.Parts[0].InlineData.Data
	if data == "" {
		return "", fmt.Errorf("gemini tts: no inline audio data")
	}
	return data, nil
}
