// Package models defines the persisted and derived data structures of the
// wallet analytics pipeline.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoofyComponent/GoofyChain/internal/types"
)

// WalletAnalysis is the aggregate summary of a wallet's full transaction
// history. There is exactly one row per address; currency is metadata of the
// latest run, not part of the identity, so re-analyzing in another currency
// overwrites the previous summary.
type WalletAnalysis struct {
	ID                string          `json:"id"`
	WalletAddress     string          `json:"walletAddress"`
	Currency          string          `json:"currency"`
	TotalIncoming     decimal.Decimal `json:"totalIncoming"`  // native units
	TotalOutgoing     decimal.Decimal `json:"totalOutgoing"`  // native units
	TotalFees         decimal.Decimal `json:"totalFees"`      // native units
	NetBalance        decimal.Decimal `json:"netBalance"`     // native units
	TotalTransactions int             `json:"totalTransactions"`
	LastUpdated       time.Time       `json:"lastUpdated"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`

	Transactions []*WalletTransaction `json:"transactions,omitempty"`
}

// WalletTransaction is one enriched ledger entry for an analyzed address.
// Rows are unique on (hash, walletAddress) and updated in place on
// re-analysis; the subsystem never deletes them.
type WalletTransaction struct {
	ID            string          `json:"id"`
	Hash          string          `json:"hash"`
	WalletAddress string          `json:"walletAddress"`
	Kind          types.TxKind    `json:"kind"`
	BlockNumber   uint64          `json:"blockNumber"`
	Seq           int             `json:"seq"` // position in merged ledger order
	FromAddress   string          `json:"fromAddress"`
	ToAddress     string          `json:"toAddress"`
	Value         decimal.Decimal `json:"value"`    // native units
	Fee           decimal.Decimal `json:"fee"`      // native units, external sender-side only
	NetValue      decimal.Decimal `json:"netValue"` // signed native units
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	FiatValue     decimal.Decimal `json:"fiatValue"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	Timestamp     time.Time       `json:"timestamp"`
	IsIncoming    bool            `json:"isIncoming"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// DataPoint is one point of the portfolio value history.
type DataPoint struct {
	Timestamp     time.Time       `json:"timestamp"`
	NativeBalance decimal.Decimal `json:"nativeBalance"`
	FiatBalance   decimal.Decimal `json:"fiatBalance"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
}

// PortfolioStats summarizes the current state of a portfolio.
// Percentage changes are 0 when the past baseline is zero; this understates
// change from an empty wallet but avoids dividing by zero.
type PortfolioStats struct {
	CurrentValue            decimal.Decimal `json:"currentValue"`
	DailyChange             decimal.Decimal `json:"dailyChange"`
	WeeklyChange            decimal.Decimal `json:"weeklyChange"`
	MonthlyChange           decimal.Decimal `json:"monthlyChange"`
	TotalTransactions       int             `json:"totalTransactions"`
	AverageTransactionValue decimal.Decimal `json:"averageTransactionValue"`
	LastUpdated             time.Time       `json:"lastUpdated"`
}

// MonthlyBucket accumulates activity for one calendar month.
type MonthlyBucket struct {
	Count  int             `json:"count"`
	Volume decimal.Decimal `json:"volume"` // absolute native volume
}

// TransactionsSummary buckets transactions by calendar month and tracks
// extreme and mean absolute values.
type TransactionsSummary struct {
	Monthly            map[string]MonthlyBucket `json:"monthly"` // keyed YYYY-MM
	LargestTransaction decimal.Decimal          `json:"largestTransaction"`
	AverageTransaction decimal.Decimal          `json:"averageTransaction"`
	TotalCount         int                      `json:"totalCount"`
}
