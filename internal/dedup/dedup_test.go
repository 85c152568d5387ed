package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/terminal-bench/stakevault/internal/store"
)

type fakeLog struct {
	txs map[string]*store.Transaction
	err error
}

func (f *fakeLog) GetTransactionBySignature(ctx context.Context, sig string) (*store.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[sig]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

func TestIsDuplicate(t *testing.T) {
	ctx := context.Background()

	t.Run("should pass unknown references", func(t *testing.T) {
		g := New(&fakeLog{txs: map[string]*store.Transaction{}})
		dup, existing := g.IsDuplicate(ctx, "sig-1")
		assert.False(t, dup)
		assert.Nil(t, existing)
	})

	t.Run("should flag recorded references and return the entry", func(t *testing.T) {
		tx := &store.Transaction{TxSignature: "sig-1", Type: store.TxTypeStake}
		g := New(&fakeLog{txs: map[string]*store.Transaction{"sig-1": tx}})

		dup, existing := g.IsDuplicate(ctx, "sig-1")
		assert.True(t, dup)
		assert.Equal(t, tx, existing)
	})

	t.Run("should fail open on lookup error", func(t *testing.T) {
		g := New(&fakeLog{err: assert.AnError})
		dup, _ := g.IsDuplicate(ctx, "sig-1")
		assert.False(t, dup)
	})
}
