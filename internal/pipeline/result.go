package pipeline

import (
	"time"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/session"
)

// Status is the overall outcome of a turn.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial" // text recognized, translation or speech missing
	StatusSilence Status = "silence"
	StatusError   Status = "error"
)

// Stage names a pipeline step.
type Stage string

const (
	StageDecode     Stage = "decode"
	StageTranscribe Stage = "transcribe"
	StageClassify   Stage = "classify"
	StageResolve    Stage = "resolve_languages"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StageCommit     Stage = "commit"
)

// Request is one transcribe command.
type Request struct {
	Audio      string // base64, optionally a data: URL
	TargetLang string
}

// Translation is the translated half of a turn.
type Translation struct {
	Timestamp time.Time
	Lang      lang.Code
	Text      string
	Audio     []byte // nil when synthesis failed
}

// StageError records a stage that failed without aborting the turn.
type StageError struct {
	Stage Stage
	Err   error
}

// Result describes a finished turn.
type Result struct {
	Status        Status
	Speaker       session.Speaker
	SourceLang    lang.Code
	Original      string
	Translated    *Translation // nil when translation failed
	Emotion       string
	EmotionScores map[string]float64

	// FailedStage and Err are set when Status is StatusError.
	FailedStage Stage
	Err         error

	// Degraded lists stages that failed but were absorbed.
	Degraded []StageError
}

// DegradedAt reports whether stage failed without aborting the turn.
func (r Result) DegradedAt(stage Stage) bool {
	for _, d := range r.Degraded {
		if d.Stage == stage {
			return true
		}
	}
	return false
}
