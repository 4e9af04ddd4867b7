package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy(attempts int) Policy {
	return Policy{
		Attempts:        attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestCall_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Call(context.Background(), fastPolicy(3), "op", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestCall_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Call(context.Background(), fastPolicy(5), "op", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestCall_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), fastPolicy(4), "append", func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "append failed after 4 attempt(s)")
}

func TestCall_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), fastPolicy(0), "op", func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCall_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	errFatal := errors.New("fatal")
	_, err := Call(context.Background(), fastPolicy(5), "op", func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errFatal)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestCall_RetryableClassifier(t *testing.T) {
	errDenied := errors.New("denied")
	p := fastPolicy(5)
	p.Retryable = func(err error) bool { return !errors.Is(err, errDenied) }

	calls := 0
	_, err := Call(context.Background(), p, "op", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 0, errDenied
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDenied)
	assert.Equal(t, 2, calls)
}

func TestCall_PerAttemptTimeout(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 5 * time.Millisecond

	calls := 0
	_, err := Call(context.Background(), p, "slow", func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestCall_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(100)
	p.InitialInterval = 10 * time.Millisecond

	calls := 0
	_, err := Call(ctx, p, "op", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
