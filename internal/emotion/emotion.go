// Package emotion normalizes classifier labels and maps emotions to speech
// prosody.
package emotion

import (
	"fmt"
	"math"
	"strings"
)

// Unknown is reported when no classification is available.
const Unknown = "Unknown"

// happyOverride is the happy score (percent) above which a frame counts as
// Happy regardless of the top label.
const happyOverride = 30.0

// Short labels emitted by speech emotion models.
var aliases = map[string]string{
	"neu": "neutral",
	"hap": "happy",
	"ang": "angry",
	"sad": "sad",
	"fea": "fear",
	"dis": "disgust",
	"sur": "surprise",
}

// Normalize turns a raw classifier label into a display label: aliases are
// expanded, the happy override applies, and the result is capitalized.
// Scores are percentages keyed by raw label. An empty label yields Unknown.
func Normalize(label string, scores map[string]float64) string {
	l := strings.ToLower(strings.TrimSpace(label))
	if full, ok := aliases[l]; ok {
		l = full
	}
	if scoreFor(scores, "happy") > happyOverride {
		l = "happy"
	}
	if l == "" || l == "unknown" {
		return Unknown
	}
	return strings.ToUpper(l[:1]) + l[1:]
}

func scoreFor(scores map[string]float64, label string) float64 {
	for k, v := range scores {
		k = strings.ToLower(k)
		if full, ok := aliases[k]; ok {
			k = full
		}
		if k == label {
			return v
		}
	}
	return 0
}

// Prosody is a speaking style relative to the synthesizer's neutral voice.
type Prosody struct {
	Rate   float64 // multiplier, 1.0 = normal
	Volume float64 // 0..1
}

// RateString formats Rate as a signed percentage, e.g. "+80%".
func (p Prosody) RateString() string {
	return signedPercent(p.Rate - 1)
}

// VolumeString formats Volume relative to full volume, e.g. "-50%".
func (p Prosody) VolumeString() string {
	return signedPercent(p.Volume - 1)
}

func signedPercent(delta float64) string {
	pct := int(math.Round(delta * 100))
	if pct >= 0 {
		return fmt.Sprintf("+%d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}

var neutral = Prosody{Rate: 1.0, Volume: 1.0}

var prosodies = map[string]Prosody{
	"Happy":     {Rate: 1.8, Volume: 1.0},
	"Surprise":  {Rate: 1.8, Volume: 0.8},
	"Surprised": {Rate: 1.8, Volume: 0.8},
	"Sad":       {Rate: 0.8, Volume: 0.5},
}

// ProsodyFor returns the speaking style for a normalized label.
func ProsodyFor(label string) Prosody {
	if p, ok := prosodies[label]; ok {
		return p
	}
	return neutral
}
