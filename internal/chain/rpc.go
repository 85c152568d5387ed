package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/stakevault/pkg/amount"
	"github.com/terminal-bench/stakevault/pkg/circuit"
)

// RPCConfig configures the JSON-RPC backed client.
type RPCConfig struct {
	RPCURL       string
	CustodyURL   string
	CustodyToken string
	VaultAddress string
	TokenMint    string
	HTTPClient   *http.Client
	// VerifyDelays is the backoff schedule applied while the external
	// indexer catches up. Defaults to 2s, 4s, 8s.
	VerifyDelays []time.Duration
}

// RPCClient implements Client over a JSON-RPC node plus a custody signer
// service that holds the vault credential. Every outbound call goes through
// a circuit breaker.
type RPCClient struct {
	cfg      RPCConfig
	http     *http.Client
	breakers *circuit.BreakerGroup
}

// NewRPCClient creates an external-ledger client.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if len(cfg.VerifyDelays) == 0 {
		cfg.VerifyDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}

	return &RPCClient{
		cfg:  cfg,
		http: cfg.HTTPClient,
		breakers: circuit.NewBreakerGroup(circuit.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	return c.breakers.Execute(ctx, "rpc", func() error {
		body, err := json.Marshal(rpcRequest{
			JSONRPC: "2.0",
			ID:      method,
			Method:  method,
			Params:  params,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal rpc request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build rpc request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("rpc call %s failed: %w", method, err)
		}
		defer resp.Body.Close()

		var envelope rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("failed to decode rpc response: %w", err)
		}
		if envelope.Error != nil {
			return fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Result, out); err != nil {
				return fmt.Errorf("failed to decode rpc result: %w", err)
			}
		}
		return nil
	})
}

// transaction is the subset of the node's getTransaction response the
// verifier inspects.
type transaction struct {
	Meta *struct {
		Err               interface{}    `json:"err"`
		PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction *struct {
		Message struct {
			AccountKeys []accountKey `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

type accountKey struct {
	Pubkey string `json:"pubkey"`
	Signer bool   `json:"signer"`
}

type tokenBalance struct {
	Owner         string `json:"owner"`
	Mint          string `json:"mint"`
	UITokenAmount struct {
		UIAmountString string `json:"uiAmountString"`
	} `json:"uiTokenAmount"`
}

// VerifyStakeTransfer checks that the referenced transfer moved
// expectedAmount of the staked token from expectedWallet into the vault.
// External indexing is eventually consistent, so "not found" retries with
// exponential backoff before becoming final.
func (c *RPCClient) VerifyStakeTransfer(ctx context.Context, signature, expectedWallet string, expectedAmount decimal.Decimal) (*VerifyResult, error) {
	var lastErr error

	for attempt := 0; attempt <= len(c.cfg.VerifyDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.VerifyDelays[attempt-1]):
			}
		}

		var tx transaction
		err := c.call(ctx, "getTransaction",
			[]interface{}{signature, map[string]interface{}{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0}},
			&tx)
		if err != nil {
			log.Printf("transfer verification attempt %d for %s: %v", attempt+1, signature, err)
			lastErr = err
			continue
		}

		if tx.Meta == nil || tx.Transaction == nil {
			// Not indexed yet.
			lastErr = ErrTransferNotFound
			continue
		}

		return c.validateTransfer(&tx, expectedWallet, expectedAmount)
	}

	if lastErr == ErrTransferNotFound {
		return nil, ErrTransferNotFound
	}
	return nil, fmt.Errorf("transfer verification failed: %w", lastErr)
}

func (c *RPCClient) validateTransfer(tx *transaction, expectedWallet string, expectedAmount decimal.Decimal) (*VerifyResult, error) {
	if tx.Meta.Err != nil {
		return &VerifyResult{Valid: false, Reason: "transfer failed on external ledger"}, nil
	}

	var signer string
	for _, key := range tx.Transaction.Message.AccountKeys {
		if key.Signer {
			signer = key.Pubkey
			break
		}
	}
	if signer != expectedWallet {
		return &VerifyResult{Valid: false, Reason: "transfer signer does not match wallet address"}, nil
	}

	pre := findVaultBalance(tx.Meta.PreTokenBalances, c.cfg.VaultAddress, c.cfg.TokenMint)
	post := findVaultBalance(tx.Meta.PostTokenBalances, c.cfg.VaultAddress, c.cfg.TokenMint)
	if post == nil {
		return &VerifyResult{Valid: false, Reason: "no token transfer to vault found in transaction"}, nil
	}

	preAmount := decimal.Zero
	if pre != nil {
		var err error
		preAmount, err = decimal.NewFromString(pre.UITokenAmount.UIAmountString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pre-transfer balance: %w", err)
		}
	}
	postAmount, err := decimal.NewFromString(post.UITokenAmount.UIAmountString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse post-transfer balance: %w", err)
	}

	actual := postAmount.Sub(preAmount)
	if !amount.WithinTolerance(actual, expectedAmount) {
		return &VerifyResult{
			Valid:        false,
			ActualAmount: actual,
			Reason:       fmt.Sprintf("amount mismatch: expected %s, got %s", expectedAmount, actual),
		}, nil
	}

	return &VerifyResult{Valid: true, ActualAmount: actual, FromAddress: signer}, nil
}

func findVaultBalance(balances []tokenBalance, vault, mint string) *tokenBalance {
	for i := range balances {
		if balances[i].Owner == vault && balances[i].Mint == mint {
			return &balances[i]
		}
	}
	return nil
}

// SubmitTransfer asks the custody signer to move funds out of the vault.
func (c *RPCClient) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	var signature string

	err := c.breakers.Execute(ctx, "custody", func() error {
		body, err := json.Marshal(map[string]interface{}{
			"recipient":      req.Recipient,
			"amount":         req.Amount.String(),
			"asset":          req.Asset,
			"create_account": req.CreateRecipientAccount,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal transfer request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CustodyURL+"/transfers", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build transfer request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.CustodyToken)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("custody transfer failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("custody transfer rejected with status %d", resp.StatusCode)
		}

		var out struct {
			Signature string `json:"signature"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode custody response: %w", err)
		}
		if out.Signature == "" {
			return fmt.Errorf("custody response missing signature")
		}
		signature = out.Signature
		return nil
	})
	if err != nil {
		return "", err
	}
	return signature, nil
}

type signatureStatus struct {
	Value []*struct {
		ConfirmationStatus string      `json:"confirmationStatus"`
		Err                interface{} `json:"err"`
	} `json:"value"`
}

// AwaitConfirmation polls the node until the transfer confirms, fails, or
// the attempt budget runs out. It never hangs indefinitely: an exhausted
// budget is a reported timeout.
func (c *RPCClient) AwaitConfirmation(ctx context.Context, signature string, attempts int, interval time.Duration) error {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		var status signatureStatus
		err := c.call(ctx, "getSignatureStatuses", []interface{}{[]string{signature}}, &status)
		if err != nil {
			log.Printf("confirmation poll %d for %s: %v", i+1, signature, err)
			continue
		}

		if len(status.Value) == 0 || status.Value[0] == nil {
			continue
		}
		if status.Value[0].Err != nil {
			return ErrTransferFailed
		}
		switch status.Value[0].ConfirmationStatus {
		case "confirmed", "finalized":
			return nil
		}
	}
	return ErrConfirmationTimeout
}

// VaultBalance returns the vault's settlement-currency balance.
func (c *RPCClient) VaultBalance(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		Value int64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{c.cfg.VaultAddress}, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to query vault balance: %w", err)
	}
	return decimal.New(result.Value, -9), nil
}
