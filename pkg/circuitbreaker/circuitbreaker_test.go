package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/nalgeon/be"
)

var errBoom = errors.New("boom")

func fastConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             20 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(fastConfig())

	be.Equal(t, cb.Execute(func() error { return errBoom }), errBoom)
	be.Equal(t, cb.Execute(func() error { return errBoom }), errBoom)

	err := cb.Execute(func() error { return nil })
	be.Equal(t, err, ErrCircuitBreakerOpen)
	be.Equal(t, cb.GetState(), StateOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(fastConfig())

	be.Equal(t, cb.Execute(func() error { return errBoom }), errBoom)
	be.Err(t, cb.Execute(func() error { return nil }), nil)
	be.Equal(t, cb.Execute(func() error { return errBoom }), errBoom)

	// failures were not consecutive, so the breaker stays closed
	be.Equal(t, cb.GetState(), StateClosed)
}

func TestHalfOpenProbeCloses(t *testing.T) {
	cb := NewCircuitBreaker(fastConfig())

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	be.Equal(t, cb.GetState(), StateOpen)

	time.Sleep(30 * time.Millisecond)

	be.Err(t, cb.Execute(func() error { return nil }), nil)
	be.Err(t, cb.Execute(func() error { return nil }), nil)
	be.Equal(t, cb.GetState(), StateClosed)
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(fastConfig())

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	be.Equal(t, cb.Execute(func() error { return errBoom }), errBoom)
	be.Equal(t, cb.GetState(), StateOpen)
}

func TestReset(t *testing.T) {
	cb := NewCircuitBreaker(fastConfig())

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	be.Equal(t, cb.GetState(), StateOpen)

	cb.Reset()
	be.Equal(t, cb.GetState(), StateClosed)
	be.Err(t, cb.Execute(func() error { return nil }), nil)
}
