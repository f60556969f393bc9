// Package gemini translates text with a Gemini model.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"google.golang.org/genai"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/resilience"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.0-flash"

// Config configures the translator.
type Config struct {
	APIKey  string
	Model   string
	Retry   resilience.RetryConfig
	Breaker resilience.Config
}

// generator is the subset of genai.Models the translator uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Translator implements provider.Translator.
type Translator struct {
	models  generator
	model   string
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// New creates a translator backed by the Gemini API.
func New(ctx context.Context, cfg Config) (*Translator, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "create gemini client")
	}
	return newTranslator(client.Models, cfg), nil
}

func newTranslator(models generator, cfg Config) *Translator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Translator{
		models:  models,
		model:   cfg.Model,
		retry:   cfg.Retry,
		breaker: resilience.NewNamed("gemini", cfg.Breaker),
	}
}

// Translate asks the model for a plain translation.
func (t *Translator) Translate(ctx context.Context, text string, source, target lang.Code) (string, error) {
	gen := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	prompt := Prompt(text, source, target)

	out, err := resilience.RetryWithResult(ctx, t.retry, func() (string, error) {
		return resilience.ExecuteWithResult(t.breaker, func() (string, error) {
			resp, err := t.models.GenerateContent(ctx, t.model, genai.Text(prompt), gen)
			if err != nil {
				return "", apperrors.Wrap(err, apperrors.CodeUnavailable, "gemini generate")
			}
			return resp.Text(), nil
		})
	})
	if err != nil {
		return "", err
	}
	out = Clean(out)
	if out == "" {
		return "", apperrors.New(apperrors.CodeTranslation, "gemini returned no text")
	}
	return out, nil
}

const systemPrompt = "You are a translator for a live spoken conversation. " +
	"Reply with the translation only, without quotes, notes or transliteration."

// Prompt builds the user prompt for one translation.
func Prompt(text string, source, target lang.Code) string {
	from := "the detected language"
	if source != "" && source != lang.Auto {
		from = Name(source)
	}
	return fmt.Sprintf("Translate from %s to %s:\n%s", from, Name(target), text)
}

// Name returns the English name of a language code, or the code itself.
func Name(c lang.Code) string {
	tag, err := language.Parse(string(c))
	if err != nil {
		return string(c)
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return string(c)
}

// Clean strips code fences and wrapping quotes models sometimes add.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"') {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
