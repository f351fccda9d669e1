// Package ledger is the only code path that talks to the external escrow
// ledger. It exposes escrow creation and result commits as blocking calls that
// return once the ledger reports the transaction confirmed, and classifies
// failures as retryable (unavailable) or fatal (rejected).
package ledger

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

// MatchIDWidth is the fixed width of the on-ledger match id token. The token
// is NUL terminated, so an id may use at most MatchIDWidth-1 bytes.
const MatchIDWidth = 32

// DrawWinner is the winner sentinel for a draw or a cancelled match: the
// ledger refunds every posted stake instead of paying out.
const DrawWinner = "0x0000000000000000000000000000000000000000"

// StakeDecimals is the precision of the staking token. The gateway converts
// stakes to base units at this scale.
const StakeDecimals = 18

var addressRE = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a 20-byte hex account address.
func ValidAddress(s string) bool { return addressRE.MatchString(s) }

// ValidateStake checks that stake is positive and has no more than
// StakeDecimals fractional digits.
func ValidateStake(stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "stake %s is not positive", stake)
	}
	if !stake.Equal(stake.Truncate(StakeDecimals)) {
		return apperrors.Newf(apperrors.CodeInvalidRequest, "stake %s has more than %d decimals", stake, StakeDecimals)
	}
	return nil
}

// EscrowRequest describes the escrow for a freshly paired match.
type EscrowRequest struct {
	MatchID string
	P1      string
	P2      string
	Stake   decimal.Decimal
}

// Validate checks the request before any call is made.
func (r EscrowRequest) Validate() error {
	if _, err := EncodeMatchID(r.MatchID); err != nil {
		return err
	}
	for _, p := range []string{r.P1, r.P2} {
		if !ValidAddress(p) {
			return apperrors.Newf(apperrors.CodeInvalidRequest, "escrow: invalid player address %q", p)
		}
	}
	if err := ValidateStake(r.Stake); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "escrow", err)
	}
	return nil
}

// Receipt is the confirmed ledger transaction.
type Receipt struct {
	MatchID string
	Winner  string
	TxHash  string
	Message string
}

// Gateway creates escrows and commits results. Both calls block until the
// transaction is confirmed and fail with CodeLedgerUnavailable (retryable) or
// CodeLedgerRejected (fatal for the match).
type Gateway interface {
	CreateEscrow(ctx context.Context, req EscrowRequest) (Receipt, error)
	CommitResult(ctx context.Context, matchID, winner string) (Receipt, error)
}

// StakeVerifier independently checks that a player's stake for a match was
// posted on the ledger.
type StakeVerifier interface {
	VerifyStake(ctx context.Context, matchID, player string) (bool, error)
}

// EncodeMatchID renders id as the fixed-width token the ledger stores.
// Ids that do not fit are rejected, never truncated.
func EncodeMatchID(id string) ([MatchIDWidth]byte, error) {
	var out [MatchIDWidth]byte
	if id == "" {
		return out, apperrors.New(apperrors.CodeInvalidRequest, "match id is empty")
	}
	if len(id) > MatchIDWidth-1 {
		return out, apperrors.Newf(apperrors.CodeInvalidRequest, "match id %q is %d bytes, max %d", id, len(id), MatchIDWidth-1)
	}
	copy(out[:], id)
	return out, nil
}

// IsDraw reports whether winner is the refund sentinel.
func IsDraw(winner string) bool {
	return strings.EqualFold(winner, DrawWinner)
}
