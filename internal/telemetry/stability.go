package telemetry

import (
	"fmt"
	"sync"
)

type StabilityMode string

const (
	// StabilityChannel marks a channel stable when its sigma is below the
	// threshold.
	StabilityChannel StabilityMode = "channel"
	// StabilityCoupled additionally accepts a sigma below the mean sigma of
	// the other currently stable channels.
	StabilityCoupled StabilityMode = "coupled"

	DefaultStabilityThreshold = 5e-5
)

func ParseStabilityMode(s string) (StabilityMode, error) {
	switch StabilityMode(s) {
	case "", StabilityChannel:
		return StabilityChannel, nil
	case StabilityCoupled:
		return StabilityCoupled, nil
	default:
		return "", fmt.Errorf("unknown stability mode %q", s)
	}
}

// Stability classifies wavemeter channels from their latest sigma. The result
// is advisory only.
type Stability struct {
	mu        sync.Mutex
	threshold float64
	mode      StabilityMode
	sigma     map[int]float64
	stable    map[int]bool
}

func NewStability(threshold float64, mode StabilityMode) *Stability {
	if threshold <= 0 {
		threshold = DefaultStabilityThreshold
	}
	if mode == "" {
		mode = StabilityChannel
	}

	return &Stability{
		threshold: threshold,
		mode:      mode,
		sigma:     make(map[int]float64),
		stable:    make(map[int]bool),
	}
}

// Observe records the latest sigma of channel and returns its new state.
func (s *Stability) Observe(channel int, sigma float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sigma[channel] = sigma
	stable := sigma < s.threshold
	if !stable && s.mode == StabilityCoupled {
		var sum float64
		var n int
		for ch, ok := range s.stable {
			if ch == channel || !ok {
				continue
			}
			sum += s.sigma[ch]
			n++
		}
		stable = n > 0 && sigma < sum/float64(n)
	}
	s.stable[channel] = stable

	return stable
}

func (s *Stability) Stable(channel int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stable[channel]
}

func (s *Stability) Sigma(channel int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sigma[channel]

	return v, ok
}

func (s *Stability) Mode() StabilityMode {
	return s.mode
}
