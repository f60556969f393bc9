package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/audio"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/audio/codec"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/audio/segment"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/config"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/pipeline"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/session"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
)

// Audio chunks buffered between the capture callback and the segmenter.
const audioBufferSize = 100

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Translate a live two-person conversation from the microphone",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")
		device, _ := cmd.Flags().GetString("device")
		if target == "" {
			target = cfg.Languages.DefaultTarget
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return listen(ctx, cmd.OutOrStdout(), loader, cfg, target, device)
	},
}

func init() {
	listenCmd.Flags().String("target", "", "language speaker 1 is translated into (default languages.default_target)")
	listenCmd.Flags().String("device", "", "input device name filter (default system input)")
}

func listen(ctx context.Context, out io.Writer, loader *config.Loader, cfg *config.Config, target, device string) error {
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
	defer closeSink(context.WithoutCancel(ctx), sink)

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

	sess := session.New("")
	ctx = trace.WithSession(ctx, sess.ID)
	log := trace.Logger(ctx)

	var vad segment.Detector = segment.EnergyVAD{Threshold: cfg.Microphone.EnergyThreshold}
	if cfg.Microphone.VAD == "grpc" {
		vad = b.inference
	}
	rate := cfg.Microphone.SampleRate
	seg := segment.New(vad, segment.Config{
		SampleRate:       rate,
		Threshold:        cfg.Microphone.SpeechThreshold,
		MaxSilenceChunks: cfg.Microphone.MaxSilenceChunks,
		MinSpeechSamples: cfg.Microphone.MinSpeechChunks * segment.WindowSamples,
	}, func(ctx context.Context, samples []float32) {
		res, err := localTurn(ctx, turns, sess, pipeline.Request{
			Audio:      codec.EncodeBase64WAV(samples, rate),
			TargetLang: target,
		})
		if err != nil {
			log.Warn("utterance dropped", "error", err)
			return
		}
		printTurn(out, res)
	})

	capturer, err := audio.NewCapturer(rate, audioBufferSize, device)
	if err != nil {
		return err
	}
	if err := capturer.Start(ctx); err != nil {
		return err
	}
	log.Info("listening", "target", target, "vad", cfg.Microphone.VAD)
	fmt.Fprintf(out, "Listening. %s speaks first; press Ctrl+C to stop.\n", session.SpeakerOne)

	chunks := capturer.Output()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			seg.Push(ctx, chunk.Data)
		}
	}
	capturer.Stop()

	fmt.Fprintln(out, "\nConversation:")
	for _, e := range sess.History().Entries() {
		fmt.Fprintln(out, " ", e)
	}
	return nil
}

// localTurn runs one microphone turn under the session's turn claim.
func localTurn(ctx context.Context, turns *pipeline.Pipeline, sess *session.Session, req pipeline.Request) (pipeline.Result, error) {
	release, err := sess.BeginTurn()
	if err != nil {
		return pipeline.Result{}, err
	}
	defer release()
	return turns.Run(ctx, sess, req), nil
}

// printTurn writes one line per turn outcome.
func printTurn(out io.Writer, res pipeline.Result) {
	switch res.Status {
	case pipeline.StatusSilence:
		fmt.Fprintf(out, "%s: (silence)\n", res.Speaker)
	case pipeline.StatusError:
		fmt.Fprintf(out, "%s: failed at %s: %v\n", res.Speaker, res.FailedStage, res.Err)
	default:
		line := fmt.Sprintf("%s [%s] %s", res.Speaker, res.SourceLang, res.Original)
		if res.Translated != nil {
			line += fmt.Sprintf(" -> [%s] %s", res.Translated.Lang, res.Translated.Text)
		}
		fmt.Fprintf(out, "%s (%s)\n", line, res.Emotion)
	}
}
