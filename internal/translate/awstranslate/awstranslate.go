// Package awstranslate translates text with Amazon Translate.
package awstranslate

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/aws/aws-sdk-go-v2/service/translate/types"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/resilience"
)

// api is the subset of the Translate client used here.
type api interface {
	TranslateText(ctx context.Context, in *translate.TranslateTextInput, optFns ...func(*translate.Options)) (*translate.TranslateTextOutput, error)
}

// Config configures the translator. Credentials come from the default AWS
// chain (environment, shared config, instance role).
type Config struct {
	Region  string
	Retry   resilience.RetryConfig
	Breaker resilience.Config
}

// Translator implements provider.Translator.
type Translator struct {
	api     api
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// New loads the default AWS configuration for region.
func New(ctx context.Context, cfg Config) (*Translator, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "load aws config")
	}
	return newTranslator(translate.NewFromConfig(awsCfg), cfg), nil
}

func newTranslator(client api, cfg Config) *Translator {
	return &Translator{
		api:     client,
		retry:   cfg.Retry,
		breaker: resilience.NewNamed("aws-translate", cfg.Breaker),
	}
}

// Translate calls TranslateText. An empty or auto source lets the service
// detect the language.
func (t *Translator) Translate(ctx context.Context, text string, source, target lang.Code) (string, error) {
	in := &translate.TranslateTextInput{
		Text:               aws.String(text),
		SourceLanguageCode: aws.String(SourceCode(source)),
		TargetLanguageCode: aws.String(string(target)),
	}
	return resilience.RetryWithResult(ctx, t.retry, func() (string, error) {
		return resilience.ExecuteWithResult(t.breaker, func() (string, error) {
			out, err := t.api.TranslateText(ctx, in)
			if err != nil {
				return "", classify(err)
			}
			return aws.ToString(out.TranslatedText), nil
		})
	})
}

// SourceCode maps a source language to the code the service expects.
func SourceCode(c lang.Code) string {
	if c == "" {
		return string(lang.Auto)
	}
	return string(c)
}

// classify maps service faults to error codes. Throttling and service
// outages are retryable, everything else is a translation failure.
func classify(err error) error {
	var (
		throttled   *types.TooManyRequestsException
		unavailable *types.ServiceUnavailableException
		pair        *types.UnsupportedLanguagePairException
	)
	switch {
	case errors.As(err, &throttled), errors.As(err, &unavailable):
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "aws translate unavailable")
	case errors.As(err, &pair):
		return apperrors.Wrap(err, apperrors.CodeTranslation, "unsupported language pair").
			WithMetadata("source", aws.ToString(pair.SourceLanguageCode)).
			WithMetadata("target", aws.ToString(pair.TargetLanguageCode))
	default:
		return apperrors.Wrap(err, apperrors.CodeTranslation, "aws translate")
	}
}
