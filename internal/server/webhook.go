package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/stakevault/pkg/messaging"
)

// Settlement-currency base units per whole unit in webhook payloads.
var lamportsPerUnit = decimal.New(1, 9)

// WebhookStore persists inbound notifications and the vault balance they
// imply.
type WebhookStore interface {
	InsertWebhookLog(ctx context.Context, eventType string, payload json.RawMessage) (uuid.UUID, error)
	MarkWebhookProcessed(ctx context.Context, id uuid.UUID) error
	AddVaultBalance(ctx context.Context, delta decimal.Decimal) error
}

// WebhookPublisher emits vault deposit events. Optional.
type WebhookPublisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// webhookEvent is the notifier's transfer shape. Notifiers batch events and
// change their envelope over time, so everything here is optional.
type webhookEvent struct {
	Type            string `json:"type"`
	Signature       string `json:"signature"`
	NativeTransfers []struct {
		FromUserAccount string `json:"fromUserAccount"`
		ToUserAccount   string `json:"toUserAccount"`
		Amount          int64  `json:"amount"`
	} `json:"nativeTransfers"`
}

// webhook ingests external-ledger notifications. Every payload is logged
// first; unrecognized shapes are acknowledged and skipped rather than
// rejected, so a notifier format change never turns into a retry storm.
func (s *Server) webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	ctx := c.Request.Context()
	logID, err := s.webhooks.InsertWebhookLog(ctx, "external_transfer", body)
	if err != nil {
		fail(c, err)
		return
	}

	events, ok := parseWebhookEvents(body)
	if !ok {
		log.Printf("webhook %s: unrecognized payload shape, logged and skipped", logID)
		c.JSON(http.StatusOK, gin.H{"success": true, "processed": false})
		return
	}

	deposited := decimal.Zero
	var lastSig string
	for _, ev := range events {
		for _, tr := range ev.NativeTransfers {
			if tr.ToUserAccount != s.vaultAddress() || tr.Amount <= 0 {
				continue
			}
			deposited = deposited.Add(decimal.NewFromInt(tr.Amount).Div(lamportsPerUnit))
			lastSig = ev.Signature
		}
	}

	if deposited.IsPositive() {
		if err := s.webhooks.AddVaultBalance(ctx, deposited); err != nil {
			fail(c, err)
			return
		}
		if s.webhookPub != nil {
			event := messaging.VaultDepositEvent{
				EventID:     uuid.New(),
				Amount:      deposited.String(),
				TxSignature: lastSig,
				Timestamp:   time.Now().UTC(),
			}
			if err := s.webhookPub.Publish(ctx, messaging.EventTypeVaultDeposit, event); err != nil {
				log.Printf("failed to publish vault deposit event: %v", err)
			}
		}
	}

	if err := s.webhooks.MarkWebhookProcessed(ctx, logID); err != nil {
		log.Printf("failed to mark webhook %s processed: %v", logID, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": true,
		"deposited": deposited.String(),
	})
}

// parseWebhookEvents accepts both a single event object and a batch array.
func parseWebhookEvents(body []byte) ([]webhookEvent, bool) {
	var batch []webhookEvent
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, true
	}

	var single webhookEvent
	if err := json.Unmarshal(body, &single); err == nil {
		return []webhookEvent{single}, true
	}
	return nil, false
}
