package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/config"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/grpcclient"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider/stub"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
	mongostore "github.com/GriffinCanCode/emotalk/backend/platform/internal/store/mongo"
	pgstore "github.com/GriffinCanCode/emotalk/backend/platform/internal/store/postgres"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/translate/awstranslate"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/translate/gemini"
)

// backend is the provider set plus the inference connection behind it, if
// any. The connection also serves remote speech detection.
type backend struct {
	providers provider.Set
	inference *grpcclient.Client
}

func (b *backend) Close() {
	if b.inference != nil {
		_ = b.inference.Close()
	}
}

// awaitInference waits for the inference server when one is configured. A
// server that is still down only logs; per-call retries take over.
func (b *backend) awaitInference(ctx context.Context) {
	if b.inference == nil {
		return
	}
	if err := b.inference.WaitReady(ctx); err != nil {
		slog.Warn("inference server not ready", "error", err)
	}
}

func policy(cfg config.InferenceConfig) resilience.Policy {
	return resilience.NewPolicy(cfg.MaxRetries, cfg.BreakerThreshold, cfg.BreakerReset)
}

// newBackend builds the providers the config selects. Unselected roles keep
// their stub.
func newBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{providers: stub.New()}
	log := slog.Default()

	pol := policy(cfg.Inference)
	needInference := cfg.Providers.Speech == "grpc" ||
		cfg.Providers.Translator == "grpc" ||
		cfg.Microphone.VAD == "grpc"
	if needInference {
		client, err := grpcclient.New(grpcclient.Config{
			Addr:    cfg.Inference.Addr,
			Retry:   pol.Retry,
			Breaker: pol.Breaker,
		})
		if err != nil {
			return nil, err
		}
		b.inference = client
		log.Info("inference client ready", "addr", cfg.Inference.Addr)
	}

	if cfg.Providers.Speech == "grpc" {
		b.providers.Transcriber = b.inference
		b.providers.AudioEmotion = b.inference.AudioEmotion()
		b.providers.VideoEmotion = b.inference.VideoEmotion()
		b.providers.Synthesizer = b.inference
	}

	switch cfg.Providers.Translator {
	case "grpc":
		b.providers.Translator = b.inference
	case "gemini":
		t, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.Providers.GeminiAPIKey,
			Model:   cfg.Providers.GeminiModel,
			Retry:   pol.Retry,
			Breaker: pol.Breaker,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.providers.Translator = t
	case "aws":
		t, err := awstranslate.New(ctx, awstranslate.Config{
			Region:  cfg.Providers.AWSRegion,
			Retry:   pol.Retry,
			Breaker: pol.Breaker,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.providers.Translator = t
	}
	log.Info("providers selected", "speech", cfg.Providers.Speech, "translator", cfg.Providers.Translator)
	return b, nil
}

// newTable builds the language table from config.
func newTable(cfg config.LanguageConfig) *lang.Table {
	return lang.NewTable(cfg.Supported, cfg.Voices, lang.Pair{
		Source: lang.Normalize(cfg.DefaultSource),
		Target: lang.Normalize(cfg.DefaultTarget),
	})
}

// newSink opens the configured store behind a Batcher.
func newSink(ctx context.Context, cfg config.StoreConfig) (store.Sink, error) {
	var w store.Writer
	switch cfg.Backend {
	case "log":
		w = store.LogWriter{Logger: slog.Default()}
	case "mongo":
		mw, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		w = mw
	case "postgres":
		pw, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		w = pw
	default:
		return store.Nop{}, nil
	}
	slog.Info("store ready", "backend", cfg.Backend)
	return store.NewBatcher(w, cfg.BatchSize, cfg.FlushDelay), nil
}

// closeSink drains the sink, logging anything left behind.
func closeSink(ctx context.Context, sink store.Sink) {
	if err := sink.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("store close failed", "error", err)
	}
}
