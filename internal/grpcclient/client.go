// Package grpcclient talks to the inference server that hosts the speech,
// emotion, translation and voice models.
//
// The server speaks google.protobuf.Struct on every method, so requests are
// built as plain maps and binary payloads travel base64 encoded.
package grpcclient

import (
	"context"
	"encoding/base64"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/provider"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
)

// Config configures the connection and its guards.
type Config struct {
	Addr    string
	Retry   resilience.RetryConfig
	Breaker resilience.Config
}

// Client wraps the inference connection. Each method has its own breaker.
type Client struct {
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	retry    resilience.RetryConfig
	breakers map[string]*resilience.Breaker
}

// New creates an inference client. The connection is established lazily.
func New(cfg Config, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeUnavailable, "dial inference %s", cfg.Addr)
	}

	breakers := make(map[string]*resilience.Breaker)
	for _, m := range []string{
		MethodTranscribe, MethodClassifyAudio, MethodClassifyFrame,
		MethodTranslate, MethodSynthesize, MethodDetectSpeech, MethodResetVAD,
	} {
		breakers[m] = resilience.NewNamed(m, cfg.Breaker)
	}

	return &Client{
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		retry:    cfg.Retry,
		breakers: breakers,
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Healthy reports whether the server answers the standard health check.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// WaitReady polls the health service under the retry policy until the
// server reports SERVING.
func (c *Client) WaitReady(ctx context.Context) error {
	return resilience.Retry(ctx, c.retry, func() error {
		if c.Healthy(ctx) {
			return nil
		}
		return apperrors.New(apperrors.CodeUnavailable, "inference server not serving")
	})
}

// Breaker returns the breaker guarding method.
func (c *Client) Breaker(method string) *resilience.Breaker {
	return c.breakers[method]
}

// invoke calls method through its breaker with retries. Server errors come
// back as AppErrors decoded from their ErrorInfo detail.
func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "encode %s request", method)
	}
	b := c.breakers[method]
	return resilience.RetryWithResult(ctx, c.retry, func() (*structpb.Struct, error) {
		return resilience.ExecuteWithResult(b, func() (*structpb.Struct, error) {
			out := &structpb.Struct{}
			if err := c.conn.Invoke(ctx, method, in, out); err != nil {
				return nil, apperrors.FromGRPCError(err)
			}
			return out, nil
		})
	})
}

// Transcribe sends a WAV clip for recognition.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (provider.Transcript, error) {
	resp, err := c.invoke(ctx, MethodTranscribe, map[string]any{
		"audio": base64.StdEncoding.EncodeToString(wav),
	})
	if err != nil {
		return provider.Transcript{}, err
	}
	return provider.Transcript{
		Text:     stringField(resp, "text"),
		Language: stringField(resp, "language"),
	}, nil
}

// Translate translates text with the server-side model.
func (c *Client) Translate(ctx context.Context, text string, source, target lang.Code) (string, error) {
	resp, err := c.invoke(ctx, MethodTranslate, map[string]any{
		"text":   text,
		"source": string(source),
		"target": string(target),
	})
	if err != nil {
		return "", err
	}
	return stringField(resp, "text"), nil
}

// Synthesize renders text with the given voice and returns encoded audio.
func (c *Client) Synthesize(ctx context.Context, text string, language lang.Code, voice provider.Voice) ([]byte, error) {
	resp, err := c.invoke(ctx, MethodSynthesize, map[string]any{
		"text":     text,
		"language": string(language),
		"voice":    voice.Name,
		"rate":     voice.Prosody.RateString(),
		"volume":   voice.Prosody.VolumeString(),
	})
	if err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(stringField(resp, "audio"))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSynthesis, "decode synthesized audio")
	}
	return audio, nil
}

// DetectSpeech checks if an audio chunk contains speech.
func (c *Client) DetectSpeech(ctx context.Context, chunk []byte, sampleRate int) (float32, bool, error) {
	resp, err := c.invoke(ctx, MethodDetectSpeech, map[string]any{
		"audio":       base64.StdEncoding.EncodeToString(chunk),
		"sample_rate": sampleRate,
	})
	if err != nil {
		return 0, false, err
	}
	return float32(numberField(resp, "probability")), boolField(resp, "is_speech"), nil
}

// ResetVAD resets the server's speech detector state.
func (c *Client) ResetVAD(ctx context.Context) error {
	_, err := c.invoke(ctx, MethodResetVAD, map[string]any{})
	return err
}

// AudioEmotion returns a classifier for speech clips.
func (c *Client) AudioEmotion() provider.EmotionClassifier {
	return classifier{c: c, method: MethodClassifyAudio}
}

// VideoEmotion returns a classifier for camera frames.
func (c *Client) VideoEmotion() provider.EmotionClassifier {
	return classifier{c: c, method: MethodClassifyFrame}
}

type classifier struct {
	c      *Client
	method string
}

func (k classifier) Classify(ctx context.Context, data []byte) (provider.Emotion, error) {
	resp, err := k.c.invoke(ctx, k.method, map[string]any{
		"data": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return provider.Emotion{}, err
	}
	e := provider.Emotion{Label: stringField(resp, "label"), Scores: map[string]float64{}}
	for label, v := range resp.GetFields()["scores"].GetStructValue().GetFields() {
		e.Scores[label] = v.GetNumberValue()
	}
	return e, nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func numberField(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}
