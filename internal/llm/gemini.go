package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/nasertech9/OIChatBot-AI-2025/internal/chat"
)

const defaultModel = "gemini-2.5-flash"

// GeminiClient is a streaming chat provider backed by the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient constructs a client for the given API key and model.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key missing")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.9),
		TopK:            genai.Ptr[float32](1),
		TopP:            genai.Ptr[float32](1),
		MaxOutputTokens: 2048,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
	}
}

// StartChat opens a provider-side conversation seeded with history. Roles
// and parts are passed through unchanged, order preserved.
func (c *GeminiClient) StartChat(ctx context.Context, history []chat.Message) (chat.Conversation, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			parts = append(parts, &genai.Part{Text: p.Text})
		}
		contents = append(contents, &genai.Content{Role: string(m.Role), Parts: parts})
	}
	session, err := c.client.Chats.Create(ctx, c.model, generationConfig(), contents)
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}
	return &conversation{session: session}, nil
}

// conversation adapts the SDK chat to channel-pair streaming.
type conversation struct {
	session *genai.Chat
}

func (g *conversation) Stream(ctx context.Context, text string) (<-chan string, <-chan error) {
	deltas := make(chan string, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(deltas)
		defer close(errCh)
		for resp, err := range g.session.SendMessageStream(ctx, genai.Part{Text: text}) {
			if err != nil {
				errCh <- fmt.Errorf("gemini: stream: %w", err)
				return
			}
			t := resp.Text()
			if t == "" {
				continue
			}
			select {
			case deltas <- t:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()
	return deltas, errCh
}
