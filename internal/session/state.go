package session

import (
	"fmt"
	"sync"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/lang"
)

// Speaker is a participant slot in a two-person conversation.
type Speaker int

const (
	SpeakerOne Speaker = 1
	SpeakerTwo Speaker = 2
)

// String renders the label sent to clients, e.g. "Speaker 1".
func (s Speaker) String() string { return fmt.Sprintf("Speaker %d", int(s)) }

// Next returns the other speaker.
func (s Speaker) Next() Speaker {
	if s == SpeakerOne {
		return SpeakerTwo
	}
	return SpeakerOne
}

// State tracks whose turn it is and the language pair speaker 1 pinned.
type State struct {
	mu      sync.Mutex
	speaker Speaker
	pinned  lang.Pair
	isSet   bool
}

// NewState starts with speaker 1 and no pinned pair.
func NewState() *State {
	return &State{speaker: SpeakerOne}
}

// Speaker returns the speaker expected to talk next.
func (s *State) Speaker() Speaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker
}

// Pinned returns the pair speaker 1 last pinned.
func (s *State) Pinned() (lang.Pair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned, s.isSet
}

// NextTurnLanguages resolves the translation direction for a turn.
//
// Speaker 1 translates from the detected language into the requested target
// and pins that pair. Speaker 2 answers in the reverse direction of the pin;
// the requested target and detected language are ignored. Speaker 2 acting
// before any pin fails with UNPINNED_STATE.
func (s *State) NextTurnLanguages(sp Speaker, requestedTarget, detected lang.Code) (lang.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sp == SpeakerOne {
		s.pinned = lang.Pair{Source: detected, Target: requestedTarget}
		s.isSet = true
		return s.pinned, nil
	}
	if !s.isSet {
		return lang.Pair{}, apperrors.New(apperrors.CodeUnpinnedState, "speaker 2 spoke before speaker 1 pinned a language pair")
	}
	return s.pinned.Reverse(), nil
}

// AdvanceSpeaker hands the turn to the other speaker and returns who is next.
func (s *State) AdvanceSpeaker() Speaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker = s.speaker.Next()
	return s.speaker
}
