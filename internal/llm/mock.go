package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/hyperjump/kiku/pkg/utils"
)

// Section labels the mock looks for in a prompt.
const (
	ContextLabel  = "Context:"
	QuestionLabel = "Question:"
)

// NoAnswer is what the mock replies when the prompt carries no context.
const NoAnswer = "I don't know."

// Mock is a deterministic llms.Model. It answers with the first line of the
// prompt's context section, so answers are traceable to retrieved chunks.
type Mock struct {
	// Err, when set, is returned from every call.
	Err error

	mu      sync.Mutex
	prompts []string
}

var _ llms.Model = (*Mock)(nil)

// NewMock returns a mock model.
func NewMock() *Mock {
	return &Mock{}
}

// GenerateContent answers the concatenated text parts of messages.
func (m *Mock) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				prompt.WriteString(tc.Text)
			}
		}
	}
	if prompt.Len() == 0 {
		return nil, errors.New("empty prompt")
	}
	p := prompt.String()
	m.mu.Lock()
	m.prompts = append(m.prompts, p)
	m.mu.Unlock()

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: answer(p), StopReason: "stop"}},
	}, nil
}

// Call implements the single-prompt interface.
func (m *Mock) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Prompts returns every prompt the mock has answered, in order.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func answer(prompt string) string {
	start := strings.Index(prompt, ContextLabel)
	if start < 0 {
		return NoAnswer
	}
	body := prompt[start+len(ContextLabel):]
	if end := strings.Index(body, QuestionLabel); end >= 0 {
		body = body[:end]
	}
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return utils.Truncate(line, 200)
		}
	}
	return NoAnswer
}
