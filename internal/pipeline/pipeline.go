// Package pipeline runs one conversational turn: decode, transcribe while
// classifying tone, resolve the translation direction, translate, speak and
// commit.
//
// Each stage fails in isolation. Decode and transcription failures end the
// turn with an error; classification, translation and synthesis failures
// degrade the result. The speaker only advances when the turn produced text.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/audio/codec"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/emotion"
	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/session"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
)

// Options configures a Pipeline.
type Options struct {
	Providers provider.Set
	Languages *syncx.RWGuard[*lang.Table]
	Sink      store.Sink
	Timeout   time.Duration // per provider call
}

// Pipeline is safe for concurrent use across sessions.
type Pipeline struct {
	providers provider.Set
	languages *syncx.RWGuard[*lang.Table]
	sink      store.Sink
	timeout   time.Duration
	now       func() time.Time
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProviderTimeout
	}
	if opts.Sink == nil {
		opts.Sink = store.Nop{}
	}
	return &Pipeline{
		providers: opts.Providers,
		languages: opts.Languages,
		sink:      opts.Sink,
		timeout:   opts.Timeout,
		now:       time.Now,
	}
}

// Run executes one turn for sess. The caller must hold the session's turn
// claim (Session.BeginTurn).
func (p *Pipeline) Run(ctx context.Context, sess *session.Session, req Request) Result {
	ctx = trace.WithSession(ctx, sess.ID)
	ctx, span := trace.StartSpan(ctx, "turn")
	defer span.End()
	log := trace.Logger(ctx)

	state := sess.State()
	res := Result{Speaker: state.Speaker(), Emotion: emotion.Unknown, EmotionScores: map[string]float64{}}

	audio, err := codec.Decode(req.Audio)
	if err != nil {
		return p.fail(ctx, res, StageDecode, err)
	}

	// Transcription and tone classification share the decoded clip and run
	// side by side; only transcription can fail the turn.
	var (
		transcript    provider.Transcript
		transcribeErr error
		tone          provider.Emotion
		classifyErr   error
	)
	var g errgroup.Group
	g.Go(func() error {
		transcribeErr = p.call(ctx, StageTranscribe, apperrors.CodeTranscription, func(ctx context.Context) error {
			var err error
			transcript, err = p.providers.Transcriber.Transcribe(ctx, audio.Data)
			return err
		})
		return nil
	})
	g.Go(func() error {
		if p.providers.AudioEmotion == nil {
			classifyErr = apperrors.New(apperrors.CodeClassificationDegraded, "no audio classifier configured")
			return nil
		}
		classifyErr = p.call(ctx, StageClassify, apperrors.CodeClassificationDegraded, func(ctx context.Context) error {
			var err error
			tone, err = p.providers.AudioEmotion.Classify(ctx, audio.Data)
			return err
		})
		return nil
	})
	_ = g.Wait()

	if transcribeErr != nil {
		return p.fail(ctx, res, StageTranscribe, transcribeErr)
	}
	if classifyErr != nil {
		res.Degraded = append(res.Degraded, StageError{Stage: StageClassify, Err: classifyErr})
		log.Warn("tone classification degraded", "error", classifyErr)
	} else {
		res.Emotion = emotion.Normalize(tone.Label, tone.Scores)
		if tone.Scores != nil {
			res.EmotionScores = tone.Scores
		}
	}

	res.Original = strings.TrimSpace(transcript.Text)
	if res.Original == "" {
		log.Info("silence detected", "speaker", res.Speaker.String())
		res.Status = StatusSilence
		return res
	}

	pair := p.resolve(ctx, &res, state, req.TargetLang, transcript.Language)
	res.SourceLang = pair.Source

	translated, err := p.translate(ctx, res.Original, pair)
	if err != nil {
		res.Degraded = append(res.Degraded, StageError{Stage: StageTranslate, Err: err})
		log.Warn("translation failed", "error", err, "source", pair.Source, "target", pair.Target)
	} else {
		res.Translated = &Translation{Timestamp: p.now(), Lang: pair.Target, Text: translated}
		speech, err := p.synthesize(ctx, translated, pair.Target, res.Emotion)
		if err != nil {
			res.Degraded = append(res.Degraded, StageError{Stage: StageSynthesize, Err: err})
			log.Warn("synthesis failed", "error", err, "target", pair.Target)
		} else {
			res.Translated.Audio = speech
		}
	}

	res.Status = StatusSuccess
	if res.DegradedAt(StageTranslate) || res.DegradedAt(StageSynthesize) {
		res.Status = StatusPartial
	}
	p.commit(ctx, sess, res, pair)
	return res
}

func (p *Pipeline) fail(ctx context.Context, res Result, stage Stage, err error) Result {
	trace.Logger(ctx).Warn("turn failed", "stage", stage, "error", err)
	res.Status = StatusError
	res.FailedStage = stage
	res.Err = err
	return res
}

// call runs one provider call under the per-call deadline. A deadline hit
// becomes PROVIDER_TIMEOUT; other errors are wrapped with code unless they
// already carry one.
func (p *Pipeline) call(ctx context.Context, stage Stage, code apperrors.ErrorCode, fn func(context.Context) error) error {
	ctx, span := trace.StartSpan(ctx, string(stage))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	span.Fail(err)
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return apperrors.Wrapf(err, apperrors.CodeProviderTimeout, "%s exceeded %s", stage, p.timeout).
			WithMetadata("stage", string(stage))
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Wrapf(err, code, "%s failed", stage)
}

// resolve validates the detected and requested languages and asks the
// session state for the direction. Unpinned state falls back to the
// configured pair.
func (p *Pipeline) resolve(ctx context.Context, res *Result, state *session.State, requested, detected string) lang.Pair {
	table := p.languages.Get()
	fallback := table.Fallback()

	pair, err := state.NextTurnLanguages(
		res.Speaker,
		table.Resolve(requested, fallback.Target),
		table.Resolve(detected, fallback.Source),
	)
	if err != nil {
		res.Degraded = append(res.Degraded, StageError{Stage: StageResolve, Err: err})
		trace.Logger(ctx).Warn("using fallback language pair", "error", err, "pair", fallback)
		return fallback
	}
	return pair
}

func (p *Pipeline) translate(ctx context.Context, text string, pair lang.Pair) (string, error) {
	if pair.Source == pair.Target {
		return text, nil
	}
	var out string
	err := p.call(ctx, StageTranslate, apperrors.CodeTranslation, func(ctx context.Context) error {
		var err error
		out, err = p.providers.Translator.Translate(ctx, text, pair.Source, pair.Target)
		return err
	})
	return out, err
}

func (p *Pipeline) synthesize(ctx context.Context, text string, target lang.Code, label string) ([]byte, error) {
	voice := provider.Voice{
		Name:    p.languages.Get().Voice(target),
		Prosody: emotion.ProsodyFor(label),
	}
	var out []byte
	err := p.call(ctx, StageSynthesize, apperrors.CodeSynthesis, func(ctx context.Context) error {
		var err error
		out, err = p.providers.Synthesizer.Synthesize(ctx, text, target, voice)
		return err
	})
	return out, err
}

// commit advances the speaker, records history and persists the turn.
// Persistence failures are logged only.
func (p *Pipeline) commit(ctx context.Context, sess *session.Session, res Result, pair lang.Pair) {
	sess.State().AdvanceSpeaker()

	entry := session.Entry{
		Timestamp:  p.now(),
		Speaker:    res.Speaker,
		SourceLang: string(pair.Source),
		TargetLang: string(pair.Target),
		Original:   res.Original,
		Emotion:    res.Emotion,
	}
	if res.Translated != nil {
		entry.Translated = res.Translated.Text
	}
	sess.History().Add(entry)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := p.sink.Save(pctx, TurnRecord(sess.ID, res, pair, entry.Timestamp)); err != nil {
		trace.Logger(ctx).Warn("persist turn failed", "error", err)
	}
}

// TurnRecord builds the translations document for a committed turn. The
// translation timestamp wins over at when present.
func TurnRecord(sessionID string, res Result, pair lang.Pair, at time.Time) store.Record {
	fields := map[string]any{
		"session_id":      sessionID,
		"speaker":         res.Speaker.String(),
		"original_text":   res.Original,
		"source_language": string(pair.Source),
		"target_language": string(pair.Target),
		"translated_text": nil,
		"emotion":         res.Emotion,
		"emotion_scores":  res.EmotionScores,
		"status":          string(res.Status),
	}
	fields[store.TimestampField] = at.UTC()
	if res.Translated != nil {
		fields["translated_text"] = res.Translated.Text
		fields[store.TimestampField] = res.Translated.Timestamp.UTC()
	}
	return store.Record{Collection: store.CollectionTranslations, Fields: fields}
}
