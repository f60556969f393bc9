// Package lang holds the supported language table used to validate client
// language codes and pick synthesis voices.
package lang

import (
	"slices"
	"strings"
)

// Code is an ISO-639-1 style language code such as "en" or "ko".
type Code string

// Auto asks the translator to detect the source language itself.
const Auto Code = "auto"

// Pair is a source/target translation direction.
type Pair struct {
	Source Code
	Target Code
}

// Reverse swaps source and target.
func (p Pair) Reverse() Pair { return Pair{Source: p.Target, Target: p.Source} }

// Table is an immutable set of supported codes with their voices.
// Replace it wholesale on reload.
type Table struct {
	supported []Code
	voices    map[Code]string
	fallback  Pair
}

// NewTable builds a table. Codes are normalized to lower case.
func NewTable(supported []string, voices map[string]string, fallback Pair) *Table {
	t := &Table{voices: make(map[Code]string, len(voices)), fallback: fallback}
	for _, s := range supported {
		if c := Normalize(s); c != "" && !slices.Contains(t.supported, c) {
			t.supported = append(t.supported, c)
		}
	}
	for k, v := range voices {
		t.voices[Normalize(k)] = v
	}
	return t
}

// Normalize lower-cases a code and strips any region suffix ("en-US" -> "en").
func Normalize(s string) Code {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	return Code(s)
}

// Supported reports whether c is in the table.
func (t *Table) Supported(c Code) bool {
	return slices.Contains(t.supported, Normalize(string(c)))
}

// Resolve returns the normalized code if supported, otherwise fallback.
func (t *Table) Resolve(raw string, fallback Code) Code {
	c := Normalize(raw)
	if c != "" && t.Supported(c) {
		return c
	}
	return fallback
}

// Fallback is the pair used when no pinned pair exists.
func (t *Table) Fallback() Pair { return t.fallback }

// Voice returns the configured synthesis voice for c, or "" to let the
// synthesizer choose.
func (t *Table) Voice(c Code) string { return t.voices[Normalize(string(c))] }

// Codes lists the supported codes in configuration order.
func (t *Table) Codes() []Code { return slices.Clone(t.supported) }
