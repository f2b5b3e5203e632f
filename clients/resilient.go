package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-hclog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/flant/compliance-sync/model"
)

// FailureCounter receives exhausted-retry notifications for the resilience
// statistics.
type FailureCounter interface {
	IncVendorFailure()
}

type noopCounter struct{}

func (noopCounter) IncVendorFailure() {}

// ResilienceConfig carries the three outbound-protection policies.
type ResilienceConfig struct {
	Permits     int           // rate limiter permits per period
	Period      time.Duration // rate limiter window
	PermitWait  time.Duration // bounded wait for a permit
	MinCalls    uint32        // breaker evaluates only after this many calls
	FailureRate float64       // breaker opens at or above this rate
	Cooldown    time.Duration // open -> half-open
	MaxRetries  uint64        // retryable failures after the first attempt
	RetryBase   time.Duration // first backoff interval, doubled per attempt
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Permits:     20,
		Period:      time.Minute,
		PermitWait:  2 * time.Second,
		MinCalls:    3,
		FailureRate: 0.5,
		Cooldown:    time.Minute,
		MaxRetries:  5, // 1, 2, 4, 8, 16 minute schedule
		RetryBase:   time.Minute,
	}
}

// ResilientVendor wraps every outbound vendor call with rate limiting,
// circuit breaking and classified retry, composed in that order. Permanent
// failures (4xx) are surfaced immediately and are recorded as breaker
// successes: an invalid payload must not be mistaken for a vendor outage.
type ResilientVendor struct {
	next       Vendor
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	permitWait time.Duration
	newBackOff func() backoff.BackOff
	counter    FailureCounter
	logger     hclog.Logger
}

func NewResilientVendor(next Vendor, cfg ResilienceConfig, counter FailureCounter, parentLogger hclog.Logger) *ResilientVendor {
	if counter == nil {
		counter = noopCounter{}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vendor",
		MaxRequests: 1,
		Interval:    cfg.Period,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.MinCalls &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRate
		},
	})
	return &ResilientVendor{
		next:       next,
		limiter:    rate.NewLimiter(rate.Every(cfg.Period/time.Duration(cfg.Permits)), cfg.Permits),
		breaker:    breaker,
		permitWait: cfg.PermitWait,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = cfg.RetryBase
			bo.RandomizationFactor = 0
			bo.Multiplier = 2
			bo.MaxInterval = cfg.RetryBase << cfg.MaxRetries
			bo.MaxElapsedTime = 0
			return backoff.WithMaxRetries(bo, cfg.MaxRetries)
		},
		counter: counter,
		logger:  parentLogger.Named("vendor"),
	}
}

// Open reports whether the breaker currently fails fast. The daemon pauses
// event consumption while this is true so the failed-event backlog does not
// grow unboundedly.
func (r *ResilientVendor) Open() bool {
	return r.breaker.State() == gobreaker.StateOpen
}

func (r *ResilientVendor) GetAllUsers(ctx context.Context) (users []VendorUser, err error) {
	err = r.call(ctx, "GetAllUsers", func(ctx context.Context) error {
		var e error
		users, e = r.next.GetAllUsers(ctx)
		return e
	})
	return
}

func (r *ResilientVendor) GetAllGroups(ctx context.Context) (groups []string, err error) {
	err = r.call(ctx, "GetAllGroups", func(ctx context.Context) error {
		var e error
		groups, e = r.next.GetAllGroups(ctx)
		return e
	})
	return
}

func (r *ResilientVendor) GetAllVisibilityProfiles(ctx context.Context) (profiles []string, err error) {
	err = r.call(ctx, "GetAllVisibilityProfiles", func(ctx context.Context) error {
		var e error
		profiles, e = r.next.GetAllVisibilityProfiles(ctx)
		return e
	})
	return
}

func (r *ResilientVendor) CreateUser(ctx context.Context, dc *model.DesiredConfiguration) error {
	return r.call(ctx, "CreateUser", func(ctx context.Context) error {
		return r.next.CreateUser(ctx, dc)
	})
}

func (r *ResilientVendor) UpdateUser(ctx context.Context, dc *model.DesiredConfiguration) error {
	return r.call(ctx, "UpdateUser", func(ctx context.Context) error {
		return r.next.UpdateUser(ctx, dc)
	})
}

func (r *ResilientVendor) call(ctx context.Context, name string, op func(ctx context.Context) error) error {
	operation := func() error {
		return r.attempt(ctx, op)
	}
	err := backoff.Retry(operation, r.newBackOff())
	if err != nil {
		r.counter.IncVendorFailure()
		r.logger.Error(fmt.Sprintf("%s failed: %s", name, err.Error()))
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (r *ResilientVendor) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	permitCtx, cancel := context.WithTimeout(ctx, r.permitWait)
	defer cancel()
	if err := r.limiter.Wait(permitCtx); err != nil {
		return &RetryableError{Err: fmt.Errorf("rate limit permit: %w", err)}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		if callErr := op(ctx); callErr != nil {
			var perm *PermanentError
			if errors.As(callErr, &perm) {
				// breaker success: the vendor answered, the payload is bad
				return perm, nil
			}
			return nil, callErr
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// fail fast, retrying within the schedule cannot help
			return backoff.Permanent(err)
		}
		return err
	}
	if result != nil {
		return backoff.Permanent(result.(*PermanentError))
	}
	return nil
}
