package settlement

import (
	"context"
	"log"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
	"github.com/Freakkio/Sector7/internal/journal"
	"github.com/Freakkio/Sector7/internal/ledger"
)

// UnresolvedStore is the operator side of the journal.
type UnresolvedStore interface {
	Get(ctx context.Context, matchID string) (journal.Entry, error)
	MarkResolved(ctx context.Context, matchID, resultTx string) error
}

// Resolve re-issues the journaled result commit of a stuck match and closes
// the entry on success.
func Resolve(ctx context.Context, gw ledger.Gateway, store UnresolvedStore, matchID string) (ledger.Receipt, error) {
	e, err := store.Get(ctx, matchID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if e.ResolvedAt != nil {
		return ledger.Receipt{}, apperrors.Newf(apperrors.CodeInvalidRequest, "match %s already resolved tx=%s", matchID, e.ResultTx)
	}
	rec, err := gw.CommitResult(ctx, e.MatchID, e.Winner)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if err := store.MarkResolved(ctx, matchID, rec.TxHash); err != nil {
		log.Printf("ALERT: match %s committed tx=%s but journal not updated: %v", matchID, rec.TxHash, err)
		return rec, err
	}
	log.Printf("match %s resolved winner=%s tx=%s", matchID, e.Winner, rec.TxHash)
	return rec, nil
}
