package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertReward appends a reward payout history row.
func (s *Store) InsertReward(ctx context.Context, r *RewardRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.DistributedAt.IsZero() {
		r.DistributedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (id, wallet_address, amount, distribution_date, tx_signature, distributed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.WalletAddress, r.Amount, r.DistributionDate, r.TxSignature, r.DistributedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reward record: %w", err)
	}
	return nil
}

// InsertAdminAction appends an audit row for a privileged operation.
func (s *Store) InsertAdminAction(ctx context.Context, adminWallet, actionType string, details interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal admin action details: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO admin_actions (id, admin_wallet, action_type, details, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), adminWallet, actionType, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert admin action: %w", err)
	}
	return nil
}

// InsertWebhookLog records an inbound notification before it is interpreted.
func (s *Store) InsertWebhookLog(ctx context.Context, eventType string, payload json.RawMessage) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_logs (id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		id, eventType, payload, time.Now().UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return id, nil
}

// MarkWebhookProcessed flags a webhook log row as handled.
func (s *Store) MarkWebhookProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_logs SET processed = true, processed_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	return nil
}
