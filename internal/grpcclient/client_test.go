package grpcclient

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/emotion"
	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
)

type handlerFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// fakeServer serves the inference methods from a handler table.
type fakeServer struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	calls    map[string]int
	sessions []string
}

func (f *fakeServer) handle(name string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.calls[name]++
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			f.sessions = append(f.sessions, md.Get(trace.SessionIDKey)...)
		}
		h := f.handlers[name]
		f.mu.Unlock()
		if h == nil {
			return nil, status.Error(codes.Unimplemented, name)
		}
		return h(ctx, in)
	}
}

func (f *fakeServer) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func newTestClient(t *testing.T, handlers map[string]handlerFunc, cfg Config) (*Client, *fakeServer, *health.Server) {
	t.Helper()
	fake := &fakeServer{handlers: handlers, calls: map[string]int{}}

	var methods []grpc.MethodDesc
	for _, name := range []string{"Transcribe", "ClassifyAudio", "ClassifyFrame", "Translate", "Synthesize", "DetectSpeech", "ResetVAD"} {
		methods = append(methods, grpc.MethodDesc{MethodName: name, Handler: fake.handle(name)})
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: Service,
		HandlerType: (*any)(nil),
		Methods:     methods,
	}, struct{}{})
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg.Addr = "passthrough:///bufnet"
	client, err := New(cfg, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, fake, hs
}

func quickRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestTranscribe(t *testing.T) {
	var gotAudio string
	client, fake, _ := newTestClient(t, map[string]handlerFunc{
		"Transcribe": func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			gotAudio = in.GetFields()["audio"].GetStringValue()
			return structpb.NewStruct(map[string]any{"text": "hello", "language": "en"})
		},
	}, Config{Retry: quickRetry()})

	ctx := trace.WithSession(context.Background(), "sess-1")
	got, err := client.Transcribe(ctx, []byte("RIFF"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != (provider.Transcript{Text: "hello", Language: "en"}) {
		t.Errorf("Transcribe() = %+v", got)
	}
	if gotAudio != base64.StdEncoding.EncodeToString([]byte("RIFF")) {
		t.Errorf("audio field = %q", gotAudio)
	}
	if len(fake.sessions) != 1 || fake.sessions[0] != "sess-1" {
		t.Errorf("session metadata = %v, want [sess-1]", fake.sessions)
	}
}

func TestClassifyReadsScores(t *testing.T) {
	client, _, _ := newTestClient(t, map[string]handlerFunc{
		"ClassifyFrame": func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
			return structpb.NewStruct(map[string]any{
				"label":  "neutral",
				"scores": map[string]any{"neutral": 60.0, "happy": 40.0},
			})
		},
	}, Config{Retry: quickRetry()})

	got, err := client.VideoEmotion().Classify(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != "neutral" || got.Scores["happy"] != 40 {
		t.Errorf("Classify() = %+v", got)
	}
}

func TestSynthesizeSendsProsody(t *testing.T) {
	var req *structpb.Struct
	client, _, _ := newTestClient(t, map[string]handlerFunc{
		"Synthesize": func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			req = in
			return structpb.NewStruct(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte("mp3"))})
		},
	}, Config{Retry: quickRetry()})

	voice := provider.Voice{Name: "ko-KR-SunHiNeural", Prosody: emotion.ProsodyFor("Sad")}
	audio, err := client.Synthesize(context.Background(), "안녕하세요", "ko", voice)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio) != "mp3" {
		t.Errorf("audio = %q, want mp3", audio)
	}
	fields := req.GetFields()
	if fields["voice"].GetStringValue() != "ko-KR-SunHiNeural" {
		t.Errorf("voice = %q", fields["voice"].GetStringValue())
	}
	if fields["rate"].GetStringValue() != "-20%" || fields["volume"].GetStringValue() != "-50%" {
		t.Errorf("prosody = %s/%s, want -20%%/-50%%", fields["rate"].GetStringValue(), fields["volume"].GetStringValue())
	}
}

func TestServerErrorCodePreserved(t *testing.T) {
	client, fake, _ := newTestClient(t, map[string]handlerFunc{
		"Translate": func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
			return nil, apperrors.New(apperrors.CodeTranslation, "unsupported pair").GRPCStatus().Err()
		},
	}, Config{Retry: quickRetry()})

	_, err := client.Translate(context.Background(), "hi", "en", "xx")
	if !errors.Is(err, apperrors.ErrTranslation) {
		t.Fatalf("Translate() error = %v, want TRANSLATION", err)
	}
	if n := fake.callCount("Translate"); n != 1 {
		t.Errorf("calls = %d, want 1 (not retryable)", n)
	}
}

func TestRetriesUnavailable(t *testing.T) {
	var attempts atomic.Int32
	client, _, _ := newTestClient(t, map[string]handlerFunc{
		"Translate": func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
			if attempts.Add(1) == 1 {
				return nil, status.Error(codes.Unavailable, "warming up")
			}
			return structpb.NewStruct(map[string]any{"text": "안녕"})
		},
	}, Config{Retry: quickRetry()})

	got, err := client.Translate(context.Background(), "hi", "en", "ko")
	if err != nil || got != "안녕" {
		t.Fatalf("Translate() = (%q, %v), want (안녕, nil)", got, err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestBreakerFailsFast(t *testing.T) {
	client, fake, _ := newTestClient(t, map[string]handlerFunc{
		"Transcribe": func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
			return nil, status.Error(codes.Unavailable, "down")
		},
	}, Config{
		Retry:   resilience.RetryConfig{MaxRetries: 0},
		Breaker: resilience.Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1},
	})

	if _, err := client.Transcribe(context.Background(), nil); err == nil {
		t.Fatal("first call should fail")
	}
	if _, err := client.Transcribe(context.Background(), nil); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("second call error = %v, want ErrOpen", err)
	}
	if n := fake.callCount("Transcribe"); n != 1 {
		t.Errorf("server calls = %d, want 1", n)
	}
	if client.Breaker(MethodTranslate).State() != resilience.Closed {
		t.Error("translate breaker should be unaffected")
	}
}

func TestDetectSpeech(t *testing.T) {
	client, _, _ := newTestClient(t, map[string]handlerFunc{
		"DetectSpeech": func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			rate := in.GetFields()["sample_rate"].GetNumberValue()
			return structpb.NewStruct(map[string]any{"probability": 0.9, "is_speech": rate == 16000})
		},
	}, Config{Retry: quickRetry()})

	prob, speech, err := client.DetectSpeech(context.Background(), make([]byte, 64), 16000)
	if err != nil {
		t.Fatalf("DetectSpeech() error = %v", err)
	}
	if !speech || prob < 0.89 {
		t.Errorf("DetectSpeech() = (%v, %v), want (0.9, true)", prob, speech)
	}
}

func TestHealthy(t *testing.T) {
	client, _, hs := newTestClient(t, nil, Config{Retry: quickRetry()})

	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	if client.Healthy(context.Background()) {
		t.Error("Healthy() = true while NOT_SERVING")
	}
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_SERVING)
	if !client.Healthy(context.Background()) {
		t.Error("Healthy() = false while SERVING")
	}
}

func TestWaitReady(t *testing.T) {
	client, _, hs := newTestClient(t, nil, Config{Retry: quickRetry()})

	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	err := client.WaitReady(context.Background())
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code != apperrors.CodeUnavailable {
		t.Fatalf("WaitReady() = %v, want UNAVAILABLE", err)
	}

	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_SERVING)
	if err := client.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() = %v, want nil", err)
	}
}
