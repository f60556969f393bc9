package router

import (
	"encoding/base64"
	"time"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/pipeline"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// Command names.
const (
	CmdDetect       = "detect"
	CmdStartCollect = "start_collect"
	CmdTranscribe   = "transcribe"
)

// Response types.
const (
	TypeRealtime   = "realtime"
	TypeCollection = "collection"
	TypeSummary    = "summary"
	TypeSpeech     = "speech"
)

// Status values outside pipeline.Status.
const (
	StatusStarted = "started"
	StatusSuccess = string(pipeline.StatusSuccess)
	StatusPartial = string(pipeline.StatusPartial)
	StatusError   = string(pipeline.StatusError)
)

// UnknownCommandMessage is the fixed reply to an unrecognized command.
const UnknownCommandMessage = "Unknown command."

// Command is one inbound message. Fields not used by the command are ignored.
type Command struct {
	Command    string   `json:"command"`
	Frame      string   `json:"frame,omitempty"`
	Duration   *float64 `json:"duration,omitempty"` // seconds
	Audio      string   `json:"audio,omitempty"`
	TargetLang string   `json:"target_lang,omitempty"`
	TraceID    string   `json:"trace_id,omitempty"`
}

// Response is implemented by every outbound message.
type Response interface {
	responseType() string
}

// RealtimeMessage answers detect.
type RealtimeMessage struct {
	Status     string `json:"status"`
	Type       string `json:"type"`
	Emotion    string `json:"emotion"`
	Collecting bool   `json:"collecting"`
}

// CollectionMessage acknowledges start_collect.
type CollectionMessage struct {
	Status   string  `json:"status"`
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

// SummaryMessage is pushed when a collection window closes.
type SummaryMessage struct {
	Status string         `json:"status"`
	Type   string         `json:"type"`
	Data   window.Summary `json:"data"`
}

// LangText is one side of a turn.
type LangText struct {
	Lang string `json:"lang"`
	Text string `json:"text"`
}

// TranslatedText is the translated side of a turn. TTSAudio is base64 and
// null when synthesis failed.
type TranslatedText struct {
	Timestamp time.Time `json:"timestamp"`
	Lang      string    `json:"lang"`
	Text      string    `json:"text"`
	TTSAudio  *string   `json:"tts_audio"`
}

// SpeechMessage answers transcribe.
type SpeechMessage struct {
	Status        string             `json:"status"`
	Type          string             `json:"type"`
	Speaker       string             `json:"speaker"`
	Original      *LangText          `json:"original,omitempty"`
	Translated    *TranslatedText    `json:"translated"`
	Emotion       string             `json:"emotion,omitempty"`
	EmotionScores map[string]float64 `json:"emotion_scores,omitempty"`
	Message       string             `json:"message,omitempty"`
	Code          string             `json:"code,omitempty"`
	Stage         string             `json:"stage,omitempty"`
	Degraded      []string           `json:"degraded,omitempty"`
}

// ErrorMessage reports a rejected command.
type ErrorMessage struct {
	Status  string `json:"status"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (RealtimeMessage) responseType() string   { return TypeRealtime }
func (CollectionMessage) responseType() string { return TypeCollection }
func (SummaryMessage) responseType() string    { return TypeSummary }
func (SpeechMessage) responseType() string     { return TypeSpeech }
func (ErrorMessage) responseType() string      { return "error" }

// NewError builds an ErrorMessage from err, using its code when present.
func NewError(typ string, err error) ErrorMessage {
	msg := ErrorMessage{Status: StatusError, Type: typ, Message: err.Error()}
	if appErr, ok := apperrors.As(err); ok {
		msg.Code = appErr.Code.String()
		msg.Message = appErr.Message
	}
	return msg
}

// NewSpeech converts a turn result to its wire form.
func NewSpeech(res pipeline.Result) SpeechMessage {
	msg := SpeechMessage{
		Status:        string(res.Status),
		Type:          TypeSpeech,
		Speaker:       res.Speaker.String(),
		Emotion:       res.Emotion,
		EmotionScores: res.EmotionScores,
	}
	for _, d := range res.Degraded {
		msg.Degraded = append(msg.Degraded, string(d.Stage))
	}

	switch res.Status {
	case pipeline.StatusError:
		e := NewError(TypeSpeech, res.Err)
		msg.Message, msg.Code, msg.Stage = e.Message, e.Code, string(res.FailedStage)
		return msg
	case pipeline.StatusSilence:
		msg.Message = "Silence detected."
		return msg
	}

	msg.Original = &LangText{Lang: string(res.SourceLang), Text: res.Original}
	if t := res.Translated; t != nil {
		msg.Translated = &TranslatedText{Timestamp: t.Timestamp, Lang: string(t.Lang), Text: t.Text}
		if t.Audio != nil {
			audio := base64.StdEncoding.EncodeToString(t.Audio)
			msg.Translated.TTSAudio = &audio
		}
	}
	return msg
}
