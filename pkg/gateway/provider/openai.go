package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/relaygrid/framegate/pkg/buffer"
	"github.com/relaygrid/framegate/pkg/frame/session"
)

// OpenAI adapts the OpenAI chat completions streaming API to
// session.Provider. It does not use OpenAI's own structured-output or
// tool-call machinery: the sentinel protocol embeds JSON objects and tool
// calls directly in the assistant's text content, so only the raw content
// deltas are forwarded.
type OpenAI struct {
	Client *openai.Client
	Model  string

	// Temperature, Seed, and MaxTokens govern the provider determinism
	// contract: Seed and a fixed Temperature make repeated runs against
	// the same prompt reproducible, and MaxTokens bounds a round's cost.
	// Zero values are left unset on the request rather than sent as 0.
	Temperature float64
	Seed        int64
	MaxTokens   int

	// SystemPrompt, when non-empty, is sent as the first message of every
	// round, ahead of the caller-supplied messages.
	SystemPrompt string
}

var _ session.Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI provider. baseURL may be empty to use the
// default OpenAI endpoint, or set to target an OpenAI-compatible gateway.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{Client: &client, Model: model}
}

func (p *OpenAI) Stream(ctx context.Context, messages []session.Message) (session.Stream, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if p.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(p.SystemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleTool, RoleSystem:
			// The sentinel protocol has no first-class tool role on the
			// wire; tool results are folded back in as system context so
			// the next round's prompt still carries them.
			msgs = append(msgs, openai.SystemMessage(fmt.Sprintf("[%s] %s", m.Name, m.Content)))
		default:
			return nil, fmt.Errorf("provider: unknown message role %q", m.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    p.Model,
	}
	if p.Temperature > 0 {
		params.Temperature = openai.Float(p.Temperature)
	}
	if p.Seed != 0 {
		params.Seed = openai.Int(p.Seed)
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	return &openAIStream{raw: p.Client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

type openAIStream struct {
	raw *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Next() (string, error) {
	for s.raw.Next() {
		chunk := s.raw.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
	if err := s.raw.Err(); err != nil {
		return "", fmt.Errorf("provider: openai stream: %w", err)
	}
	return "", buffer.ErrIteratorDone
}

func (s *openAIStream) Close() error {
	return s.raw.Close()
}
