package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/audio/codec"
	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/pipeline"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider/stub"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/session"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/syncx"
)

type fakeConn struct {
	in  chan json.RawMessage
	out chan any
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan json.RawMessage, 16), out: make(chan any, 64)}
}

func (c *fakeConn) Read(ctx context.Context) (json.RawMessage, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, v any) error {
	c.out <- v
	return nil
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- raw
}

func (c *fakeConn) next(t *testing.T) any {
	t.Helper()
	select {
	case v := <-c.out:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return nil
	}
}

type memorySink struct {
	mu      sync.Mutex
	records []store.Record
}

func (m *memorySink) Save(_ context.Context, r store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memorySink) Close(context.Context) error { return nil }

func (m *memorySink) collection(name string) []store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Record
	for _, r := range m.records {
		if r.Collection == name {
			out = append(out, r)
		}
	}
	return out
}

// gatedTurns blocks each turn until release is closed.
type gatedTurns struct {
	release chan struct{}
	started chan struct{}
}

func (g *gatedTurns) Run(ctx context.Context, sess *session.Session, _ pipeline.Request) pipeline.Result {
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return pipeline.Result{Status: pipeline.StatusSilence, Speaker: sess.State().Speaker()}
}

func frame(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newRouter(sink store.Sink, turns Turns) *Router {
	if turns == nil {
		table := lang.NewTable([]string{"en", "ko"}, nil, lang.Pair{Source: "en", Target: "ko"})
		turns = pipeline.New(pipeline.Options{
			Providers: provider.Set{
				Transcriber: &stub.Transcriber{Script: []provider.Transcript{{Text: "hello", Language: "en"}}},
				Translator:  &stub.Translator{},
				Synthesizer: &stub.Synthesizer{},
			},
			Languages: syncx.NewGuard(table),
		})
	}
	return New(Options{
		Turns:        turns,
		VideoEmotion: &stub.Classifier{Result: provider.Emotion{Label: "hap"}},
		Sink:         sink,
	})
}

func serve(t *testing.T, r *Router) (*fakeConn, <-chan error) {
	t.Helper()
	conn := newFakeConn()
	sess := session.New("")
	t.Cleanup(sess.Close)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Serve(context.Background(), sess, conn) }()
	return conn, errCh
}

func TestUnknownCommandKeepsLoopAlive(t *testing.T) {
	conn, errCh := serve(t, newRouter(nil, nil))

	conn.send(t, map[string]any{"command": "dance"})
	assert.Equal(t, ErrorMessage{Status: "error", Message: "Unknown command."}, conn.next(t))

	conn.in <- json.RawMessage(`{not json`)
	malformed, ok := conn.next(t).(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ARGUMENT", malformed.Code)

	conn.send(t, Command{Command: CmdDetect, Frame: frame(t)})
	rt, ok := conn.next(t).(RealtimeMessage)
	require.True(t, ok)
	assert.Equal(t, "Happy", rt.Emotion)
	assert.False(t, rt.Collecting)

	close(conn.in)
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, apperrors.ErrConnectionClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after disconnect")
	}
}

func TestStartCollectPushesSummary(t *testing.T) {
	sink := &memorySink{}
	conn, _ := serve(t, newRouter(sink, nil))

	d := 0.2
	conn.send(t, Command{Command: CmdStartCollect, Duration: &d})
	assert.Equal(t, CollectionMessage{Status: "started", Type: "collection", Duration: 0.2}, conn.next(t))

	conn.send(t, Command{Command: CmdDetect, Frame: frame(t)})
	rt := conn.next(t).(RealtimeMessage)
	assert.True(t, rt.Collecting)

	conn.send(t, Command{Command: CmdStartCollect})
	busy := conn.next(t).(ErrorMessage)
	assert.Equal(t, "ALREADY_COLLECTING", busy.Code)
	assert.Equal(t, TypeCollection, busy.Type)

	sum, ok := conn.next(t).(SummaryMessage)
	require.True(t, ok)
	assert.Equal(t, "summary", sum.Type)
	assert.Equal(t, 1, sum.Data.SampleCount)
	assert.Equal(t, "Happy", sum.Data.DominantLabel)

	require.Eventually(t, func() bool { return len(sink.collection(store.CollectionEmotions)) == 1 }, time.Second, 10*time.Millisecond)
	rec := sink.collection(store.CollectionEmotions)[0]
	assert.Equal(t, "Happy", rec.Fields["dominant_emotion"])
	assert.Equal(t, 1, rec.Fields["sample_count"])
}

func TestTranscribeRepliesWithSpeech(t *testing.T) {
	conn, _ := serve(t, newRouter(nil, nil))

	conn.send(t, Command{
		Command:    CmdTranscribe,
		Audio:      codec.EncodeBase64WAV(make([]float32, 800), 16000),
		TargetLang: "ko",
	})
	msg, ok := conn.next(t).(SpeechMessage)
	require.True(t, ok)
	assert.Equal(t, "success", msg.Status)
	assert.Equal(t, "Speaker 1", msg.Speaker)
	assert.Equal(t, &LangText{Lang: "en", Text: "hello"}, msg.Original)
	require.NotNil(t, msg.Translated)
	assert.Equal(t, "안녕하세요", msg.Translated.Text)
	require.NotNil(t, msg.Translated.TTSAudio)
}

func TestTranscribeRejectsOverlappingTurn(t *testing.T) {
	turns := &gatedTurns{release: make(chan struct{}), started: make(chan struct{}, 1)}
	conn, _ := serve(t, newRouter(nil, turns))

	conn.send(t, Command{Command: CmdTranscribe, Audio: "x"})
	<-turns.started

	conn.send(t, Command{Command: CmdTranscribe, Audio: "y"})
	busy, ok := conn.next(t).(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "TURN_IN_PROGRESS", busy.Code)

	// detect is still served while the turn runs
	conn.send(t, Command{Command: CmdDetect, Frame: frame(t)})
	_, ok = conn.next(t).(RealtimeMessage)
	assert.True(t, ok)

	close(turns.release)
	speech, ok := conn.next(t).(SpeechMessage)
	require.True(t, ok)
	assert.Equal(t, "silence", speech.Status)
}

func TestDetectBadFrame(t *testing.T) {
	conn, _ := serve(t, newRouter(nil, nil))

	conn.send(t, Command{Command: CmdDetect, Frame: "???"})
	msg := conn.next(t).(ErrorMessage)
	assert.Equal(t, "DECODE", msg.Code)
	assert.Equal(t, TypeRealtime, msg.Type)
}

func TestCollectDuration(t *testing.T) {
	r := New(Options{})
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		in   *float64
		want time.Duration
	}{
		{nil, 5 * time.Second},
		{f(0), 5 * time.Second},
		{f(-3), 5 * time.Second},
		{f(2.5), 2500 * time.Millisecond},
		{f(3600), 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.CollectDuration(tt.in))
	}
}

func TestSpeechWireShape(t *testing.T) {
	res := pipeline.Result{
		Status:     pipeline.StatusPartial,
		Speaker:    session.SpeakerTwo,
		SourceLang: "ko",
		Original:   "안녕하세요",
		Translated: &pipeline.Translation{Lang: "en", Text: "hello"},
		Emotion:    "Unknown",
		Degraded:   []pipeline.StageError{{Stage: pipeline.StageSynthesize, Err: errors.New("tts down")}},
	}
	raw, err := json.Marshal(NewSpeech(res))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "speech", m["type"])
	assert.Equal(t, "Speaker 2", m["speaker"])
	translated := m["translated"].(map[string]any)
	assert.Contains(t, translated, "tts_audio")
	assert.Nil(t, translated["tts_audio"])
	assert.Equal(t, []any{"synthesize"}, m["degraded"])

	failed := NewSpeech(pipeline.Result{
		Status:      pipeline.StatusError,
		Speaker:     session.SpeakerOne,
		FailedStage: pipeline.StageDecode,
		Err:         apperrors.New(apperrors.CodeDecode, "bad audio"),
	})
	assert.Equal(t, "DECODE", failed.Code)
	assert.Equal(t, "decode", failed.Stage)
	assert.Nil(t, failed.Original)
}
