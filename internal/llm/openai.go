package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAITransport talks to any OpenAI-compatible chat completions endpoint
// (Groq by default). It keeps one client per credential.
type OpenAITransport struct {
	model   string
	clients map[string]chatCompletions
}

// NewOpenAITransport builds clients for every credential in the pool.
func NewOpenAITransport(baseURL, model string, creds []Credential) *OpenAITransport {
	t := &OpenAITransport{model: model, clients: make(map[string]chatCompletions, len(creds))}
	for _, c := range creds {
		opts := []option.RequestOption{
			option.WithAPIKey(c.Key),
			option.WithMaxRetries(0),
		}
		if baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		client := openai.NewClient(opts...)
		t.clients[c.ID] = &client.Chat.Completions
	}
	return t
}

// Complete implements Transport.
func (t *OpenAITransport) Complete(ctx context.Context, cred Credential, req Request) (string, error) {
	client, ok := t.clients[cred.ID]
	if !ok {
		return "", fmt.Errorf("no client for credential %s", cred.ID)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(t.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := client.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion: %w", &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()})
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
