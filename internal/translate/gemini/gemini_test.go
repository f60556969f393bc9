package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/resilience"
)

type fakeModels struct {
	reply   string
	errs    []error
	prompts []string
	models  []string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.models = append(f.models, model)
	f.prompts = append(f.prompts, contents[0].Parts[0].Text)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.reply, genai.RoleModel)}},
	}, nil
}

func quickRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestTranslate(t *testing.T) {
	fake := &fakeModels{reply: "  \"안녕하세요\"\n"}
	tr := newTranslator(fake, Config{Retry: quickRetry()})

	got, err := tr.Translate(context.Background(), "hello", "en", "ko")
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", got)
	assert.Equal(t, []string{DefaultModel}, fake.models)
	assert.Equal(t, "Translate from English to Korean:\nhello", fake.prompts[0])
}

func TestTranslateRetriesTransientFailure(t *testing.T) {
	fake := &fakeModels{reply: "hola", errs: []error{errors.New("503")}}
	tr := newTranslator(fake, Config{Model: "gemini-test", Retry: quickRetry()})

	got, err := tr.Translate(context.Background(), "hello", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", got)
	assert.Len(t, fake.prompts, 2)
	assert.Equal(t, "gemini-test", fake.models[0])
}

func TestTranslateEmptyReply(t *testing.T) {
	tr := newTranslator(&fakeModels{reply: "```\n```"}, Config{Retry: quickRetry()})

	_, err := tr.Translate(context.Background(), "hello", "en", "ko")
	assert.True(t, errors.Is(err, apperrors.ErrTranslation))
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConfigInvalid))
}

func TestPromptAutoSource(t *testing.T) {
	assert.Equal(t, "Translate from the detected language to Japanese:\nhi", Prompt("hi", "auto", "ja"))
}

func TestName(t *testing.T) {
	assert.Equal(t, "Korean", Name("ko"))
	assert.Equal(t, "not a tag!", Name("not a tag!"))
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"hola":              "hola",
		"\"hola\"":          "hola",
		"```\nbonjour\n```": "bonjour",
		"  ":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Clean(in), "Clean(%q)", in)
	}
}
