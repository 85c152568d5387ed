package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terminal-bench/stakevault/internal/platform"
	"github.com/terminal-bench/stakevault/internal/store"
	"github.com/terminal-bench/stakevault/internal/wallet"
	"github.com/terminal-bench/stakevault/pkg/amount"
)

const historyLimit = 10

func (s *Server) stake(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
		Amount        string `json:"amount"`
		TxSignature   string `json:"tx_signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.WalletAddress == "" || req.TxSignature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet_address and tx_signature are required"})
		return
	}

	amt, err := amount.ParseCapped(req.Amount, s.cfg.MaxStakeAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.settler.Stake(c.Request.Context(), req.WalletAddress, amt, req.TxSignature)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"staked_amount":   result.Staker.StakedAmount.String(),
		"pending_rewards": result.Staker.PendingRewards.String(),
		"tx_signature":    result.TxSignature,
	})
}

func (s *Server) unstake(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
		Amount        string `json:"amount"`
		Message       string `json:"message"`
		Signature     string `json:"signature"`
		Timestamp     int64  `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.WalletAddress == "" || req.Message == "" || req.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet_address, message and signature are required"})
		return
	}

	amt, err := amount.ParseCapped(req.Amount, s.cfg.MaxUnstakeAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent := wallet.Intent{
		Wallet:    req.WalletAddress,
		Action:    wallet.ActionUnstake,
		Message:   req.Message,
		Signature: req.Signature,
		IssuedAt:  time.UnixMilli(req.Timestamp),
	}

	result, err := s.settler.Unstake(c.Request.Context(), intent, amt)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"staked_amount": result.Staker.StakedAmount.String(),
		"amount":        result.Amount.String(),
		"tx_signature":  result.TxSignature,
	})
}

func (s *Server) withdraw(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
		Message       string `json:"message"`
		Signature     string `json:"signature"`
		Timestamp     int64  `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.WalletAddress == "" || req.Message == "" || req.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet_address, message and signature are required"})
		return
	}

	intent := wallet.Intent{
		Wallet:    req.WalletAddress,
		Action:    wallet.ActionWithdraw,
		Message:   req.Message,
		Signature: req.Signature,
		IssuedAt:  time.UnixMilli(req.Timestamp),
	}

	result, err := s.settler.Withdraw(c.Request.Context(), intent)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"amount":       result.Amount.String(),
		"tx_signature": result.TxSignature,
	})
}

func (s *Server) runRewards(c *gin.Context) {
	summary, err := s.rewards.Run(c.Request.Context(), c.GetString("subject"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"run_id":            summary.RunID.String(),
		"stakers":           summary.Stakers,
		"pool":              summary.Pool.String(),
		"total_distributed": summary.TotalDistributed.String(),
		"failed_wallets":    summary.FailedWallets,
	})
}

func (s *Server) getStaker(c *gin.Context) {
	address := c.Param("address")
	ctx := c.Request.Context()

	st, err := s.accounts.GetStaker(ctx, address)
	if err == store.ErrStakerNotFound {
		// An unknown wallet reads as an empty account, not an error.
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"wallet_address":  address,
			"staked_amount":   "0",
			"pending_rewards": "0",
			"total_withdrawn": "0",
			"staking_days":    0,
			"estimated_daily": "0",
			"transactions":    []store.Transaction{},
		})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}

	txs, err := s.accounts.ListTransactions(ctx, address, historyLimit)
	if err != nil {
		fail(c, err)
		return
	}

	withdrawn, err := s.accounts.SumTransactions(ctx, address, store.TxTypeReward)
	if err != nil {
		fail(c, err)
		return
	}

	stats, err := s.platform.Overview(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	estimatedDaily := platform.EstimatedDailyReward(st.StakedAmount, stats.TotalStaked, stats.WeeklyRewardPool)

	stakingDays := 0
	if st.FirstStakedAt.Valid {
		stakingDays = int(time.Since(st.FirstStakedAt.Time).Hours() / 24)
	}

	history := make([]gin.H, 0, len(txs))
	for _, tx := range txs {
		history = append(history, gin.H{
			"type":         tx.Type,
			"amount":       tx.Amount.String(),
			"tx_signature": tx.TxSignature,
			"status":       tx.Status,
			"created_at":   tx.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"wallet_address":  st.WalletAddress,
		"staked_amount":   st.StakedAmount.String(),
		"pending_rewards": st.PendingRewards.String(),
		"total_withdrawn": withdrawn.String(),
		"staking_days":    stakingDays,
		"estimated_daily": estimatedDaily.String(),
		"transactions":    history,
	})
}

func (s *Server) getPlatform(c *gin.Context) {
	stats, err := s.platform.Overview(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"total_staked":       stats.TotalStaked.String(),
		"number_of_stakers":  stats.NumberOfStakers,
		"vault_balance":      stats.VaultBalance.String(),
		"weekly_reward_pool": stats.WeeklyRewardPool.String(),
		"last_updated":       stats.LastUpdated,
	})
}
