package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	HealthCheckTimeout = 2 * time.Second
)

// Service is the fully qualified inference service name.
const Service = "emotalk.inference.v1.Inference"

// Inference RPC methods. Requests and responses are google.protobuf.Struct.
const (
	MethodTranscribe    = "/" + Service + "/Transcribe"
	MethodClassifyAudio = "/" + Service + "/ClassifyAudio"
	MethodClassifyFrame = "/" + Service + "/ClassifyFrame"
	MethodTranslate     = "/" + Service + "/Translate"
	MethodSynthesize    = "/" + Service + "/Synthesize"
	MethodDetectSpeech  = "/" + Service + "/DetectSpeech"
	MethodResetVAD      = "/" + Service + "/ResetVAD"
)
