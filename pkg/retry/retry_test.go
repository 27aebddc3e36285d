package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestDo(t *testing.T) {
	transient := NewRetryableError(errors.New("empty response"))
	fatal := errors.New("bad credentials")

	tests := []struct {
		name       string
		failures   int
		failWith   error
		wantErr    error
		wantCalls  int
		wantSleeps []time.Duration
	}{
		{
			name:       "first attempt succeeds",
			failures:   0,
			wantCalls:  1,
			wantSleeps: nil,
		},
		{
			name:       "succeeds on fifth attempt",
			failures:   4,
			failWith:   transient,
			wantCalls:  5,
			wantSleeps: []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second},
		},
		{
			name:       "every attempt fails",
			failures:   5,
			failWith:   transient,
			wantErr:    transient,
			wantCalls:  5,
			wantSleeps: []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second},
		},
		{
			name:      "non-retryable stops immediately",
			failures:  5,
			failWith:  fatal,
			wantErr:   fatal,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordedSleeps{}
			cfg := SessionConfig()
			cfg.Sleep = rec.sleep

			calls := 0
			err := Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			}, cfg)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantSleeps, rec.delays)
		})
	}
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(context.Context) error { return nil }, SessionConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExponentialCapped(t *testing.T) {
	backoff := Exponential(time.Second, 3*time.Second, 2, 0)
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 3*time.Second, backoff(5))
}
