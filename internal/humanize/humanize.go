// Package humanize produces the randomized timing every browser action uses.
// Delays are sampled from a skewed distribution (mostly short, with the
// occasional long pause) so action timing never settles into a fixed
// interval. The sampler is a pure function of its injected RNG: no I/O, no
// global state, fully reproducible under a seeded source.
package humanize

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/vintaloop/go-listing-backend/internal/config"
)

// ActionKind selects the delay profile to sample from.
type ActionKind int

const (
	// Keystroke is the pause between typed characters.
	Keystroke ActionKind = iota
	// Click is the pause before a pointer action.
	Click
	// Wait is the pause between distinct page interactions.
	Wait
)

// skewExp shapes the distribution: higher pushes mass toward the minimum.
const skewExp = 2.5

// longPauseProb is the chance a sample lands in the upper band instead,
// producing the occasional human-like hesitation.
const longPauseProb = 0.06

// Sampler draws randomized delays within configured bounds. A sampler is
// built once per browser session; its typing cadence is chosen at
// construction so one "person" types at a consistent speed.
type Sampler struct {
	rng *rand.Rand
	cfg config.HumanizeConfig

	// typingBase anchors per-character delays for this session.
	typingBase time.Duration
}

// NewSampler builds a sampler over the given RNG and bounds.
func NewSampler(rng *rand.Rand, cfg config.HumanizeConfig) *Sampler {
	s := &Sampler{rng: rng, cfg: cfg}
	// Pick the session's typing anchor somewhere in the middle half of the
	// keystroke band.
	span := cfg.KeystrokeMax - cfg.KeystrokeMin
	s.typingBase = cfg.KeystrokeMin + span/4 + time.Duration(rng.Int63n(int64(span/2)+1))
	return s
}

// Factory returns a sampler constructor for production wiring. Every call of
// the returned function seeds a fresh RNG, so each browser session gets its
// own timing personality.
func Factory(cfg config.HumanizeConfig) func() *Sampler {
	var seq atomic.Int64
	return func() *Sampler {
		seed := time.Now().UnixNano() ^ seq.Add(1)<<32
		return NewSampler(rand.New(rand.NewSource(seed)), cfg)
	}
}

// Delay returns one randomized delay for the given action kind, always
// within the configured [min,max] for that kind.
func (s *Sampler) Delay(kind ActionKind) time.Duration {
	var min, max time.Duration
	switch kind {
	case Keystroke:
		min, max = s.cfg.KeystrokeMin, s.cfg.KeystrokeMax
	case Click:
		min, max = s.cfg.ClickMin, s.cfg.ClickMax
	default:
		min, max = s.cfg.WaitMin, s.cfg.WaitMax
	}
	return s.sample(min, max)
}

// TypingDelays returns one delay per rune of text. Each delay jitters around
// the session's typing anchor and is clamped into the keystroke band.
func (s *Sampler) TypingDelays(text string) []time.Duration {
	runes := []rune(text)
	out := make([]time.Duration, len(runes))
	jitter := (s.cfg.KeystrokeMax - s.cfg.KeystrokeMin) / 4
	for i := range runes {
		d := s.typingBase + time.Duration((s.rng.Float64()*2-1)*float64(jitter))
		out[i] = clamp(d, s.cfg.KeystrokeMin, s.cfg.KeystrokeMax)
	}
	return out
}

// sample draws from [min,max] with mass skewed toward min; a small fraction
// of draws come from the upper band instead.
func (s *Sampler) sample(min, max time.Duration) time.Duration {
	span := float64(max - min)
	var frac float64
	if s.rng.Float64() < longPauseProb {
		frac = 0.6 + 0.4*s.rng.Float64()
	} else {
		frac = math.Pow(s.rng.Float64(), skewExp)
	}
	return clamp(min+time.Duration(frac*span), min, max)
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
