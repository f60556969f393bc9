// Package router runs the per-connection command loop: detect, start_collect
// and transcribe. A bad command is answered and the loop keeps reading; only
// a transport failure ends it.
package router

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/emotion"
	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/pipeline"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/session"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/vision"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// Conn is a message-oriented duplex channel. Read returns one raw message;
// Write sends one value. Writes may be called concurrently.
type Conn interface {
	Read(ctx context.Context) (json.RawMessage, error)
	Write(ctx context.Context, v any) error
}

// Turns runs one transcription turn.
type Turns interface {
	Run(ctx context.Context, sess *session.Session, req pipeline.Request) pipeline.Result
}

// Options configures a Router.
type Options struct {
	Turns           Turns
	VideoEmotion    provider.EmotionClassifier
	Sink            store.Sink
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	ClassifyTimeout time.Duration
}

// Router dispatches commands for one process. It holds no per-connection
// state; everything mutable lives in the session.
type Router struct {
	opts Options
}

// New creates a router.
func New(opts Options) *Router {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultCollectDuration
	}
	if opts.MaxDuration < opts.DefaultDuration {
		opts.MaxDuration = max(DefaultMaxCollectDuration, opts.DefaultDuration)
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = DefaultClassifyTimeout
	}
	if opts.Sink == nil {
		opts.Sink = store.Nop{}
	}
	return &Router{opts: opts}
}

// Serve reads commands until conn fails. It waits for in-flight turns and
// collection pushes to finish before returning a CONNECTION_CLOSED error.
func (r *Router) Serve(ctx context.Context, sess *session.Session, conn Conn) error {
	ctx = trace.WithSession(ctx, sess.ID)
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	log := trace.Logger(ctx)
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			log.Debug("connection read ended", "error", err)
			return apperrors.Wrap(err, apperrors.CodeConnectionClosed, "connection closed")
		}
		if reply := r.Handle(ctx, sess, conn, &wg, raw); reply != nil {
			if err := conn.Write(ctx, reply); err != nil {
				log.Debug("connection write failed", "error", err)
				return apperrors.Wrap(err, apperrors.CodeConnectionClosed, "connection closed")
			}
		}
	}
}

// Handle dispatches one raw command and returns the immediate reply, or nil
// when the command writes its own replies. Deferred replies (turn results,
// window summaries) are written to conn by goroutines tracked in wg.
func (r *Router) Handle(ctx context.Context, sess *session.Session, conn Conn, wg *sync.WaitGroup, raw json.RawMessage) Response {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return NewError("", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "Malformed message."))
	}
	if cmd.TraceID != "" {
		ctx = trace.WithContext(ctx, trace.NewChild(trace.Context{TraceID: cmd.TraceID}))
	} else {
		ctx, _ = trace.EnsureContext(ctx)
	}

	switch cmd.Command {
	case CmdDetect:
		return r.detect(ctx, sess, cmd)
	case CmdStartCollect:
		return r.startCollect(ctx, sess, conn, wg, cmd)
	case CmdTranscribe:
		return r.transcribe(ctx, sess, conn, wg, cmd)
	default:
		trace.Logger(ctx).Debug("unknown command", "command", cmd.Command)
		return ErrorMessage{Status: StatusError, Message: UnknownCommandMessage}
	}
}

// detect classifies one frame. While a window is open the label is also
// counted in it. A classifier failure reports Unknown with partial status.
func (r *Router) detect(ctx context.Context, sess *session.Session, cmd Command) Response {
	ctx, span := trace.StartSpan(ctx, "detect")
	defer span.End()

	frame, _, err := vision.DecodeFrame(cmd.Frame)
	if err != nil {
		span.Fail(err)
		return NewError(TypeRealtime, err)
	}
	if r.opts.VideoEmotion == nil {
		return RealtimeMessage{Status: StatusPartial, Type: TypeRealtime, Emotion: emotion.Unknown, Collecting: sess.Window().Collecting()}
	}

	cctx, cancel := context.WithTimeout(ctx, r.opts.ClassifyTimeout)
	defer cancel()
	verdict, err := r.opts.VideoEmotion.Classify(cctx, frame)
	if err != nil {
		span.Fail(err)
		trace.Logger(ctx).Warn("frame classification degraded", "error", err)
		return RealtimeMessage{Status: StatusPartial, Type: TypeRealtime, Emotion: emotion.Unknown, Collecting: sess.Window().Collecting()}
	}

	label := emotion.Normalize(verdict.Label, verdict.Scores)
	sess.Window().Append(window.Sample{Label: label})
	return RealtimeMessage{Status: StatusSuccess, Type: TypeRealtime, Emotion: label, Collecting: sess.Window().Collecting()}
}

// startCollect opens the session's window and pushes the summary when it
// closes.
func (r *Router) startCollect(ctx context.Context, sess *session.Session, conn Conn, wg *sync.WaitGroup, cmd Command) Response {
	d := r.CollectDuration(cmd.Duration)
	h, err := sess.Window().Start(d)
	if err != nil {
		return NewError(TypeCollection, err)
	}
	trace.Logger(ctx).Info("collection started", "duration", d)

	// The acknowledgement must precede the summary, even for tiny windows.
	ack := CollectionMessage{Status: StatusStarted, Type: TypeCollection, Duration: d.Seconds()}
	if err := conn.Write(ctx, ack); err != nil {
		trace.Logger(ctx).Debug("collection ack failed", "error", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		var sum window.Summary
		select {
		case s, ok := <-h.Done():
			if !ok {
				return
			}
			sum = s
		case <-ctx.Done():
			return
		}
		r.saveSummary(ctx, sess.ID, sum)
		if err := conn.Write(ctx, SummaryMessage{Status: StatusSuccess, Type: TypeSummary, Data: sum}); err != nil {
			trace.Logger(ctx).Debug("summary push failed", "error", err)
		}
	}()
	return nil
}

// CollectDuration turns the requested seconds into a window length: absent,
// non-positive or non-finite values use the default, long ones are capped.
func (r *Router) CollectDuration(seconds *float64) time.Duration {
	if seconds == nil || *seconds <= 0 || math.IsNaN(*seconds) || math.IsInf(*seconds, 0) {
		return r.opts.DefaultDuration
	}
	if *seconds >= r.opts.MaxDuration.Seconds() {
		return r.opts.MaxDuration
	}
	return time.Duration(*seconds * float64(time.Second))
}

func (r *Router) saveSummary(ctx context.Context, sessionID string, sum window.Summary) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.opts.Sink.Save(pctx, store.SummaryRecord(sessionID, sum)); err != nil {
		trace.Logger(ctx).Warn("persist summary failed", "error", err)
	}
}

// transcribe claims the session and runs the turn in the background so the
// loop keeps serving detect and start_collect. A second transcribe while a
// turn runs is rejected.
func (r *Router) transcribe(ctx context.Context, sess *session.Session, conn Conn, wg *sync.WaitGroup, cmd Command) Response {
	release, err := sess.BeginTurn()
	if err != nil {
		return NewError(TypeSpeech, err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer release()
		res := r.opts.Turns.Run(ctx, sess, pipeline.Request{Audio: cmd.Audio, TargetLang: cmd.TargetLang})
		if ctx.Err() != nil {
			return
		}
		if err := conn.Write(ctx, NewSpeech(res)); err != nil {
			trace.Logger(ctx).Debug("speech reply failed", "error", err)
		}
	}()
	return nil
}
