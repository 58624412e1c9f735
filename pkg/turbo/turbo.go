// Package turbo scales reel and autoplay timings for turbo mode.
package turbo

import "time"

// Default multipliers applied while turbo is enabled.
const (
	DefaultDurationMultiplier = 0.5
	DefaultDelayMultiplier    = 0.25
)

// TimingProfile holds the timing parameters handed to the reel renderer and
// used for autoplay scheduling.
type TimingProfile struct {
	DropDuration   time.Duration `yaml:"dropduration"`
	WinUpDuration  time.Duration `yaml:"winupduration"`
	InterSpinDelay time.Duration `yaml:"interspindelay"`
	ReelDropDelay  time.Duration `yaml:"reeldropdelay"`
}

// DefaultBaseline is the un-scaled timing profile.
var DefaultBaseline = TimingProfile{
	DropDuration:   900 * time.Millisecond,
	WinUpDuration:  1200 * time.Millisecond,
	InterSpinDelay: 600 * time.Millisecond,
	ReelDropDelay:  120 * time.Millisecond,
}

// Multipliers are the fixed constants used by Scale.
type Multipliers struct {
	Duration float64 `yaml:"duration"`
	Delay    float64 `yaml:"delay"`
}

// DefaultMultipliers returns the default turbo multipliers.
func DefaultMultipliers() Multipliers {
	return Multipliers{
		Duration: DefaultDurationMultiplier,
		Delay:    DefaultDelayMultiplier,
	}
}

// Valid reports whether both multipliers are in (0, 1].
func (m Multipliers) Valid() bool {
	return m.Duration > 0 && m.Duration <= 1 && m.Delay > 0 && m.Delay <= 1
}

// Scale maps baseline to the profile used under the given turbo flag.
//
// Callers must always pass the stored baseline, never a profile previously
// returned by Scale, otherwise scaling compounds.
func Scale(baseline TimingProfile, enabled bool, m Multipliers) TimingProfile {
	if !enabled {
		return baseline
	}
	return TimingProfile{
		DropDuration:   mul(baseline.DropDuration, m.Duration),
		WinUpDuration:  mul(baseline.WinUpDuration, m.Duration),
		InterSpinDelay: mul(baseline.InterSpinDelay, m.Delay),
		ReelDropDelay:  mul(baseline.ReelDropDelay, m.Delay),
	}
}

func mul(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

// Scaler keeps the baseline and the current flag together so the scaled
// profile is always derived from the baseline.
type Scaler struct {
	baseline    TimingProfile
	multipliers Multipliers
	enabled     bool
}

// NewScaler creates a scaler for the given baseline. Invalid multipliers are
// replaced by the defaults.
func NewScaler(baseline TimingProfile, m Multipliers) *Scaler {
	if !m.Valid() {
		m = DefaultMultipliers()
	}
	return &Scaler{baseline: baseline, multipliers: m}
}

// Set sets the turbo flag and returns the resulting profile.
func (s *Scaler) Set(enabled bool) TimingProfile {
	s.enabled = enabled
	return s.Profile()
}

// Enabled returns the turbo flag.
func (s *Scaler) Enabled() bool { return s.enabled }

// Baseline returns the stored baseline.
func (s *Scaler) Baseline() TimingProfile { return s.baseline }

// Profile returns the profile for the current flag.
func (s *Scaler) Profile() TimingProfile {
	return Scale(s.baseline, s.enabled, s.multipliers)
}
