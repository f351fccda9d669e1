package ledger

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

// RetryPolicy bounds the retries of an unavailable ledger.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used for zero fields.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// Retrying retries CodeLedgerUnavailable failures of the wrapped gateway with
// exponential backoff. Rejections are returned at once.
type Retrying struct {
	next   Gateway
	policy RetryPolicy
}

// NewRetrying wraps next.
func NewRetrying(next Gateway, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	return &Retrying{next: next, policy: policy}
}

// CreateEscrow retries the wrapped CreateEscrow.
func (r *Retrying) CreateEscrow(ctx context.Context, req EscrowRequest) (Receipt, error) {
	return retry(ctx, r.policy, "createEscrow "+req.MatchID, func() (Receipt, error) {
		return r.next.CreateEscrow(ctx, req)
	})
}

// CommitResult retries the wrapped CommitResult.
func (r *Retrying) CommitResult(ctx context.Context, matchID, winner string) (Receipt, error) {
	return retry(ctx, r.policy, "commitResult "+matchID, func() (Receipt, error) {
		return r.next.CommitResult(ctx, matchID, winner)
	})
}

// VerifyStake retries the wrapped gateway's verification when it has one.
func (r *Retrying) VerifyStake(ctx context.Context, matchID, player string) (bool, error) {
	v, ok := r.next.(StakeVerifier)
	if !ok {
		return false, apperrors.New(apperrors.CodeInternal, "ledger: stake verification not supported")
	}
	return retry(ctx, r.policy, "verifyStake "+matchID, func() (bool, error) {
		return v.VerifyStake(ctx, matchID, player)
	})
}

func retry[T any](ctx context.Context, policy RetryPolicy, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	rec, err := backoff.Retry(ctx, func() (T, error) {
		rec, err := fn()
		if err != nil && !apperrors.HasCode(err, apperrors.CodeLedgerUnavailable) {
			return rec, backoff.Permanent(err)
		}
		return rec, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("ledger: %s failed, retrying in %s: %v", op, next, err)
		}),
	)
	if err != nil && apperrors.CodeOf(err) == apperrors.CodeUnknown {
		// context cancellation and other non-ledger failures
		err = apperrors.Wrap(apperrors.CodeLedgerUnavailable, "ledger: "+op, err)
	}
	return rec, err
}
