package dedup

import (
	"context"
	"log"

	"github.com/terminal-bench/stakevault/internal/store"
)

// TransactionLog is the lookup surface of the settlement log.
type TransactionLog interface {
	GetTransactionBySignature(ctx context.Context, sig string) (*store.Transaction, error)
}

// Guard rejects settlement requests whose external reference was already
// recorded. This is defense in depth: the unique index on the transaction
// log is the hard guarantee, so the lookup fails open rather than block
// legitimate settlement on a store hiccup.
type Guard struct {
	log TransactionLog
}

// New creates a duplicate guard over the transaction log.
func New(log TransactionLog) *Guard {
	return &Guard{log: log}
}

// IsDuplicate reports whether an external reference was already settled,
// returning the existing entry when it was.
func (g *Guard) IsDuplicate(ctx context.Context, sig string) (bool, *store.Transaction) {
	existing, err := g.log.GetTransactionBySignature(ctx, sig)
	if err == store.ErrTransactionNotFound {
		return false, nil
	}
	if err != nil {
		log.Printf("duplicate check failed for %s, failing open: %v", sig, err)
		return false, nil
	}
	return true, existing
}
