package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/pipeline"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider/stub"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/router"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/syncx"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

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

func (m *memorySink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *orchestrator.Manager) {
	t.Helper()
	table := lang.NewTable([]string{"en", "ko"}, nil, lang.Pair{Source: "en", Target: "ko"})
	turns := pipeline.New(pipeline.Options{
		Providers: stub.New(),
		Languages: syncx.NewGuard(table),
	})
	mgr := orchestrator.New(orchestrator.Options{})
	opts.Manager = mgr
	opts.Router = router.New(router.Options{
		Turns:        turns,
		VideoEmotion: &stub.Classifier{Result: provider.Emotion{Label: "hap"}},
	})
	ts := httptest.NewServer(New(opts).Handler())
	t.Cleanup(func() {
		ts.Close()
		mgr.Stop()
	})
	return ts, mgr
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, cmd any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply map[string]any
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	return reply
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/emotion/start", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestStartEmotionLegacyMessage(t *testing.T) {
	ts, _ := newTestServer(t, Options{CollectDuration: 5 * time.Second})

	resp, err := http.Post(ts.URL+"/start-emotion", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var body messageResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.Message != "Emotion collection started for 5 seconds." {
		t.Errorf("message = %q", body.Message)
	}

	resp, err = http.Post(ts.URL+"/api/emotion/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var errBody router.ErrorMessage
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}
	if errBody.Code != "ALREADY_COLLECTING" {
		t.Errorf("code = %q, want ALREADY_COLLECTING", errBody.Code)
	}
}

func TestEmotionResultBeforeCollection(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/emotion-result")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var label string
	if err := json.NewDecoder(resp.Body).Decode(&label); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if label != "Unknown" {
		t.Errorf("label = %q, want Unknown", label)
	}
}

func TestEmotionWindowSummarizedAndSaved(t *testing.T) {
	sink := &memorySink{}
	ts, mgr := newTestServer(t, Options{Sink: sink, CollectDuration: 50 * time.Millisecond})

	resp, err := http.Post(ts.URL+"/api/emotion/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	for range 3 {
		mgr.Hub().Broadcast(window.Sample{Label: "Happy"})
	}
	mgr.Hub().Broadcast(window.Sample{Label: "Sad"})

	deadline := time.Now().Add(2 * time.Second)
	for sink.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.len() != 1 {
		t.Fatalf("saved %d records, want 1", sink.len())
	}
	if got := sink.records[0].Collection; got != store.CollectionEmotions {
		t.Errorf("collection = %q", got)
	}

	resp, err = http.Get(ts.URL + "/api/emotion/result")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var msg router.SummaryMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != router.TypeSummary || msg.Data.DominantLabel != "Happy" || msg.Data.SampleCount != 4 {
		t.Errorf("summary = %+v", msg)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	dial(t, ts)

	// The session is registered once the upgrade completes.
	var body map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body["sessions"] == float64(1) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["sessions"] != float64(1) {
		t.Errorf("sessions = %v, want 1", body["sessions"])
	}
	if body["camera"] != false {
		t.Errorf("camera = %v, want false", body["camera"])
	}
}

func TestHealthzReportsLanguages(t *testing.T) {
	table := lang.NewTable([]string{"en", "ja"}, nil, lang.Pair{Source: "en", Target: "ja"})
	ts, _ := newTestServer(t, Options{Languages: syncx.NewGuard(table)})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Languages []string `json:"languages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(body.Languages, ",") != "en,ja" {
		t.Errorf("languages = %v, want [en ja]", body.Languages)
	}
}

func TestWebSocketDetect(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	conn := dial(t, ts)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
	reply := roundTrip(t, conn, router.Command{
		Command: router.CmdDetect,
		Frame:   base64.StdEncoding.EncodeToString(buf.Bytes()),
	})

	if reply["type"] != router.TypeRealtime || reply["emotion"] != "Happy" {
		t.Errorf("reply = %v, want realtime Happy", reply)
	}
}

func TestWebSocketUnknownCommand(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	conn := dial(t, ts)

	reply := roundTrip(t, conn, map[string]string{"command": "dance"})
	if reply["status"] != "error" || reply["message"] != router.UnknownCommandMessage {
		t.Errorf("reply = %v", reply)
	}

	// The connection stays usable.
	reply = roundTrip(t, conn, map[string]string{"command": "dance"})
	if reply["message"] != router.UnknownCommandMessage {
		t.Errorf("second reply = %v", reply)
	}
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply map[string]any
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply["status"] != "error" || reply["code"] != "INVALID_ARGUMENT" {
		t.Errorf("reply = %v, want INVALID_ARGUMENT error", reply)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
	reply = roundTrip(t, conn, router.Command{
		Command: router.CmdDetect,
		Frame:   base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	if reply["type"] != router.TypeRealtime {
		t.Errorf("detect after malformed frame = %v", reply)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, Options{RateLimitMessages: 1, RateLimitWindow: time.Hour})
	conn := dial(t, ts)

	first := roundTrip(t, conn, map[string]string{"command": "dance"})
	if first["message"] != router.UnknownCommandMessage {
		t.Errorf("first reply = %v", first)
	}
	second := roundTrip(t, conn, map[string]string{"command": "dance"})
	if second["code"] != "RATE_LIMITED" {
		t.Errorf("second reply = %v, want RATE_LIMITED", second)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2, 20*time.Millisecond)
	if !rl.allow() || !rl.allow() {
		t.Fatal("first two messages should pass")
	}
	if rl.allow() {
		t.Error("third message within the window should be rejected")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.allow() {
		t.Error("message after the window should pass")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if rl.limit != DefaultRateLimitMessages || rl.window != DefaultRateLimitWindow {
		t.Errorf("limiter = %d/%v, want defaults", rl.limit, rl.window)
	}
}
