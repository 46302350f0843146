package capability

import (
	"sync/atomic"

	"github.com/Ramsey-B/argus/pkg/metrics"
)

// Mode is the JSON query mode of a Breaker.
type Mode int32

const (
	ModeUnknown Mode = iota
	ModeNative
	ModeDegraded
)

func (m Mode) String() string {
	switch m {
	case ModeNative:
		return "native"
	case ModeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Breaker records whether JSON path queries can be used. Once degraded it
// stays degraded for the life of the process.
type Breaker struct {
	mode  atomic.Int32
	trips atomic.Int64
}

func (b *Breaker) Mode() Mode {
	return Mode(b.mode.Load())
}

// Resolve settles an unknown breaker from a probe result and returns the
// resulting mode. A breaker that is already resolved is left alone.
func (b *Breaker) Resolve(supported bool) Mode {
	next := ModeDegraded
	if supported {
		next = ModeNative
	}
	if b.mode.CompareAndSwap(int32(ModeUnknown), int32(next)) {
		setModeGauge(next)
		if next == ModeDegraded {
			b.trips.Add(1)
			metrics.JSONBreakerTripsTotal.Inc()
		}
	}
	return b.Mode()
}

// Trip moves the breaker to degraded. It reports whether this call made the
// transition.
func (b *Breaker) Trip() bool {
	for {
		cur := b.mode.Load()
		if Mode(cur) == ModeDegraded {
			return false
		}
		if b.mode.CompareAndSwap(cur, int32(ModeDegraded)) {
			b.trips.Add(1)
			metrics.JSONBreakerTripsTotal.Inc()
			setModeGauge(ModeDegraded)
			return true
		}
	}
}

// Trips is the number of transitions into degraded mode. It is at most one.
func (b *Breaker) Trips() int64 {
	return b.trips.Load()
}

func setModeGauge(current Mode) {
	for _, m := range []Mode{ModeUnknown, ModeNative, ModeDegraded} {
		value := 0.0
		if m == current {
			value = 1
		}
		metrics.JSONQueryMode.WithLabelValues(m.String()).Set(value)
	}
}
