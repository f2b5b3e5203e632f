package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/flant/compliance-sync/model"
)

// scriptedVendor fails each call according to its script, then succeeds.
type scriptedVendor struct {
	script   []error
	attempts int
}

func (v *scriptedVendor) nextErr() error {
	v.attempts++
	if len(v.script) == 0 {
		return nil
	}
	err := v.script[0]
	v.script = v.script[1:]
	return err
}

func (v *scriptedVendor) GetAllUsers(_ context.Context) ([]VendorUser, error) {
	return nil, v.nextErr()
}

func (v *scriptedVendor) GetAllGroups(_ context.Context) ([]string, error) {
	return nil, v.nextErr()
}

func (v *scriptedVendor) GetAllVisibilityProfiles(_ context.Context) ([]string, error) {
	return nil, v.nextErr()
}

func (v *scriptedVendor) CreateUser(_ context.Context, _ *model.DesiredConfiguration) error {
	return v.nextErr()
}

func (v *scriptedVendor) UpdateUser(_ context.Context, _ *model.DesiredConfiguration) error {
	return v.nextErr()
}

type countingStats struct {
	failures int
}

func (s *countingStats) IncVendorFailure() {
	s.failures++
}

func testConfig() ResilienceConfig {
	return ResilienceConfig{
		Permits:     1000,
		Period:      time.Second,
		PermitWait:  100 * time.Millisecond,
		MinCalls:    3,
		FailureRate: 0.5,
		Cooldown:    time.Minute,
		MaxRetries:  2,
		RetryBase:   time.Millisecond,
	}
}

func repeatErr(err error, n int) []error {
	script := make([]error, n)
	for i := range script {
		script[i] = err
	}
	return script
}

func Test_Resilient_SuccessPassesThrough(t *testing.T) {
	next := &scriptedVendor{}
	r := NewResilientVendor(next, testConfig(), nil, hclog.NewNullLogger())

	err := r.UpdateUser(context.Background(), &model.DesiredConfiguration{Username: "p100001"})

	require.NoError(t, err)
	require.Equal(t, 1, next.attempts)
}

func Test_Resilient_PermanentNotRetried(t *testing.T) {
	next := &scriptedVendor{script: repeatErr(&PermanentError{StatusCode: 400}, 10)}
	counter := &countingStats{}
	r := NewResilientVendor(next, testConfig(), counter, hclog.NewNullLogger())

	err := r.UpdateUser(context.Background(), &model.DesiredConfiguration{Username: "p100001"})

	require.Error(t, err)
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	require.Equal(t, 1, next.attempts)
	require.Equal(t, 1, counter.failures)
}

func Test_Resilient_RetryableRetriedUntilSuccess(t *testing.T) {
	next := &scriptedVendor{script: repeatErr(&RetryableError{StatusCode: 503}, 2)}
	counter := &countingStats{}
	r := NewResilientVendor(next, testConfig(), counter, hclog.NewNullLogger())

	err := r.UpdateUser(context.Background(), &model.DesiredConfiguration{Username: "p100001"})

	require.NoError(t, err)
	require.Equal(t, 3, next.attempts)
	require.Zero(t, counter.failures)
}

func Test_Resilient_RetriesExhausted(t *testing.T) {
	next := &scriptedVendor{script: repeatErr(&RetryableError{StatusCode: 503}, 10)}
	counter := &countingStats{}
	r := NewResilientVendor(next, testConfig(), counter, hclog.NewNullLogger())

	err := r.UpdateUser(context.Background(), &model.DesiredConfiguration{Username: "p100001"})

	require.Error(t, err)
	// the first attempt plus MaxRetries
	require.Equal(t, 3, next.attempts)
	require.Equal(t, 1, counter.failures)
}

func Test_Resilient_BreakerOpensAndFailsFast(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	next := &scriptedVendor{script: repeatErr(&RetryableError{StatusCode: 503}, 100)}
	r := NewResilientVendor(next, cfg, nil, hclog.NewNullLogger())

	for i := 0; i < 3; i++ {
		err := r.UpdateUser(context.Background(), &model.DesiredConfiguration{Username: "p100001"})
		require.Error(t, err)
	}
	require.True(t, r.Open())
	attemptsBefore := next.attempts

	err := r.UpdateUser(context.Background(), &model.DesiredConfiguration{Username: "p100001"})

	require.Error(t, err)
	// fail fast: the vendor was never called while the breaker is open
	require.Equal(t, attemptsBefore, next.attempts)
}

func Test_Resilient_PermanentDoesNotTripBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	next := &scriptedVendor{script: repeatErr(&PermanentError{StatusCode: 422}, 100)}
	r := NewResilientVendor(next, cfg, nil, hclog.NewNullLogger())

	for i := 0; i < 10; i++ {
		err := r.UpdateUser(context.Background(), &model.DesiredConfiguration{Username: "p100001"})
		require.Error(t, err)
	}

	// the vendor answered every time, the payloads were bad
	require.False(t, r.Open())
	require.Equal(t, 10, next.attempts)
}

func Test_DefaultRetrySchedule(t *testing.T) {
	next := &scriptedVendor{}
	r := NewResilientVendor(next, DefaultResilienceConfig(), nil, hclog.NewNullLogger())
	bo := r.newBackOff()

	waits := []time.Duration{}
	for {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		waits = append(waits, wait)
	}

	require.Equal(t, []time.Duration{
		1 * time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute,
	}, waits)
}

func Test_ClassifyStatus(t *testing.T) {
	require.NoError(t, classifyStatus(200, ""))
	require.NoError(t, classifyStatus(204, ""))

	err := classifyStatus(404, "missing")
	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	require.Equal(t, 404, perm.StatusCode)

	err = classifyStatus(503, "")
	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	require.Equal(t, 503, retryable.StatusCode)
}

func Test_RetryableError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &RetryableError{Err: inner}

	require.ErrorIs(t, err, inner)
}
