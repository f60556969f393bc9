package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/config"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/pipeline"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/router"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/server"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/vision"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the WebSocket router and REST emotion window",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, loader, cfg)
	},
}

func serve(ctx context.Context, loader *config.Loader, cfg *config.Config) error {
	b, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	b.awaitInference(ctx)

	sink, err := newSink(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		closeSink(closeCtx, sink)
	}()

	languages := syncx.NewGuard(newTable(cfg.Languages))
	loader.Watch(func(next *config.Config) {
		languages.Set(newTable(next.Languages))
		logLevel.Set(next.LogLevel())
	})

	turns := pipeline.New(pipeline.Options{
		Providers: b.providers,
		Languages: languages,
		Sink:      sink,
		Timeout:   cfg.Inference.Timeout,
	})

	mgr := orchestrator.New(cameraOptions(cfg, b))
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()

	rtr := router.New(router.Options{
		Turns:           turns,
		VideoEmotion:    b.providers.VideoEmotion,
		Sink:            sink,
		DefaultDuration: cfg.Collection.DefaultDuration,
		MaxDuration:     cfg.Collection.MaxDuration,
		ClassifyTimeout: cfg.Inference.Timeout,
	})
	srv := server.New(server.Options{
		Manager:           mgr,
		Router:            rtr,
		Sink:              sink,
		Languages:         languages,
		CollectDuration:   cfg.Collection.DefaultDuration,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		ReadLimit:         cfg.Server.ReadLimit,
		RateLimitMessages: cfg.Server.RateLimitMessages,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("platform server starting", "http", cfg.Server.HTTPAddr, "inference", cfg.Inference.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

// cameraOptions opens the ambient camera when enabled. A missing camera
// leaves the server running without ambient samples.
func cameraOptions(cfg *config.Config, b *backend) orchestrator.Options {
	opts := orchestrator.Options{Hub: vision.NewHub()}
	if !cfg.Camera.Enabled {
		return opts
	}
	cam, err := vision.NewCamera(cfg.Camera.Device)
	if err != nil {
		slog.Warn("camera unavailable", "device", cfg.Camera.Device, "error", err)
		return opts
	}
	opts.Camera = cam
	opts.Sampler = vision.NewSampler(cam, b.providers.VideoEmotion, opts.Hub, vision.SamplerConfig{
		Rate:            cfg.Camera.Rate,
		MaxHashDistance: cfg.Camera.HashDistance,
		ClassifyTimeout: cfg.Inference.Timeout,
	})
	return opts
}
