package langchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type stubModel struct {
	got  []llms.MessageContent
	resp *llms.ContentResponse
	err  error
}

func (s *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	s.got = messages
	return s.resp, s.err
}

func (s *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func TestComplete(t *testing.T) {
	stub := &stubModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: `{"a":1}`}}}}
	m := Wrap(stub, "llama3", nil)

	out, err := m.Complete(context.Background(), "be terse", "hola")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
	assert.Equal(t, "llama3", m.Model())

	require.Len(t, stub.got, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, stub.got[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, stub.got[1].Role)
	assert.Equal(t, llms.TextContent{Text: "hola"}, stub.got[1].Parts[0])
}

func TestComplete_Errors(t *testing.T) {
	_, err := Wrap(&stubModel{resp: &llms.ContentResponse{}}, "m", nil).Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "no response choices")

	_, err = Wrap(&stubModel{err: errors.New("boom")}, "m", nil).Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "boom")
}

func TestNewModel_Validation(t *testing.T) {
	_, err := NewModel(Config{Provider: ProviderOpenAI, Model: "gpt-4o"}, nil)
	assert.ErrorContains(t, err, "API key required")

	_, err = NewModel(Config{Provider: "watson"}, nil)
	assert.ErrorContains(t, err, "unsupported")
}
