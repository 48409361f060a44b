package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
	"github.com/GoofyComponent/GoofyChain/internal/models"
)

// Maximum number of interpolated points inserted into a history gap.
const maxInterpolatedPoints = 30

var hundred = decimal.NewFromInt(100)

// WalletAnalyzer produces (or reuses) a wallet analysis in a requested
// currency.
type WalletAnalyzer interface {
	AnalyzeWallet(ctx context.Context, address, currency string) (*models.WalletAnalysis, error)
}

// PortfolioService computes portfolio statistics, value history, and
// activity summaries from persisted analyses.
type PortfolioService struct {
	store    AnalysisStore
	analyzer WalletAnalyzer
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(store AnalysisStore, analyzer WalletAnalyzer) *PortfolioService {
	return &PortfolioService{store: store, analyzer: analyzer}
}

func (s *PortfolioService) load(ctx context.Context, address string) (*models.WalletAnalysis, error) {
	if !common.IsHexAddress(address) {
		return nil, apperrors.NewInvalidAddressError(address)
	}
	address = strings.ToLower(address)

	analysis, err := s.store.FindByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, apperrors.NewNotFoundError("wallet analysis", address)
	}
	return analysis, nil
}

// GetStats returns portfolio statistics for a previously analyzed address.
func (s *PortfolioService) GetStats(ctx context.Context, address string) (*models.PortfolioStats, error) {
	analysis, err := s.load(ctx, address)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(analysis.Transactions, time.Now().UTC())
	stats.LastUpdated = analysis.LastUpdated
	return stats, nil
}

// GetHistory returns the portfolio value history for an address in the
// requested currency, with long gaps between transactions filled by
// interpolation. The history is built from an analysis in that currency:
// a persisted analysis in another currency is rebuilt rather than served
// with mispriced points. currency may be empty to use the default.
func (s *PortfolioService) GetHistory(ctx context.Context, address, currency string) ([]models.DataPoint, error) {
	analysis, err := s.analyzer.AnalyzeWallet(ctx, address, currency)
	if err != nil {
		return nil, err
	}
	return BuildHistory(analysis.Transactions), nil
}

// GetSummary returns monthly activity buckets for a previously analyzed
// address.
func (s *PortfolioService) GetSummary(ctx context.Context, address string) (*models.TransactionsSummary, error) {
	analysis, err := s.load(ctx, address)
	if err != nil {
		return nil, err
	}
	return Summarize(analysis.Transactions), nil
}

// ComputeStats derives portfolio statistics from transactions in ledger
// order. Percentage changes compare the current value against the portfolio
// value as of 1, 7, and 30 days before now; a zero past value yields a zero
// change rather than a division by zero.
func ComputeStats(txs []*models.WalletTransaction, now time.Time) *models.PortfolioStats {
	stats := &models.PortfolioStats{
		CurrentValue:            decimal.Zero,
		DailyChange:             decimal.Zero,
		WeeklyChange:            decimal.Zero,
		MonthlyChange:           decimal.Zero,
		TotalTransactions:       len(txs),
		AverageTransactionValue: decimal.Zero,
	}
	if len(txs) == 0 {
		return stats
	}

	last := txs[len(txs)-1]
	stats.CurrentValue = last.BalanceAfter.Mul(last.UnitPrice)

	stats.DailyChange = percentChange(stats.CurrentValue, valueAt(txs, now.AddDate(0, 0, -1)))
	stats.WeeklyChange = percentChange(stats.CurrentValue, valueAt(txs, now.AddDate(0, 0, -7)))
	stats.MonthlyChange = percentChange(stats.CurrentValue, valueAt(txs, now.AddDate(0, 0, -30)))

	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Value)
	}
	stats.AverageTransactionValue = total.Div(decimal.NewFromInt(int64(len(txs))))

	return stats
}

// valueAt returns the portfolio fiat value as of the given cutoff: the
// balance after the last transaction at or before it, priced at that
// transaction's unit price. Zero when no transaction predates the cutoff.
func valueAt(txs []*models.WalletTransaction, cutoff time.Time) decimal.Decimal {
	for i := len(txs) - 1; i >= 0; i-- {
		if !txs[i].Timestamp.After(cutoff) {
			return txs[i].BalanceAfter.Mul(txs[i].UnitPrice)
		}
	}
	return decimal.Zero
}

func percentChange(current, past decimal.Decimal) decimal.Decimal {
	if past.IsZero() {
		return decimal.Zero
	}
	return current.Sub(past).Div(past.Abs()).Mul(hundred)
}

// BuildHistory converts transactions into a portfolio value series. Gaps of
// more than one day between consecutive transactions are filled with
// linearly interpolated points, capped at 30 per gap, so sparse wallets
// still chart smoothly.
func BuildHistory(txs []*models.WalletTransaction) []models.DataPoint {
	points := make([]models.DataPoint, 0, len(txs))
	for _, tx := range txs {
		point := models.DataPoint{
			Timestamp:     tx.Timestamp,
			NativeBalance: tx.BalanceAfter,
			FiatBalance:   tx.BalanceAfter.Mul(tx.UnitPrice),
			UnitPrice:     tx.UnitPrice,
		}
		if len(points) > 0 {
			points = append(points, interpolate(points[len(points)-1], point)...)
		}
		points = append(points, point)
	}
	return points
}

// interpolate produces evenly spaced points between two history points when
// they are more than a day apart.
func interpolate(from, to models.DataPoint) []models.DataPoint {
	gap := to.Timestamp.Sub(from.Timestamp)
	days := int(gap.Hours() / 24)
	if days <= 1 {
		return nil
	}

	count := days - 1
	if count > maxInterpolatedPoints {
		count = maxInterpolatedPoints
	}

	step := gap / time.Duration(count+1)
	total := decimal.NewFromInt(int64(count + 1))

	points := make([]models.DataPoint, 0, count)
	for i := 1; i <= count; i++ {
		frac := decimal.NewFromInt(int64(i)).Div(total)
		points = append(points, models.DataPoint{
			Timestamp:     from.Timestamp.Add(step * time.Duration(i)),
			NativeBalance: lerp(from.NativeBalance, to.NativeBalance, frac),
			FiatBalance:   lerp(from.FiatBalance, to.FiatBalance, frac),
			UnitPrice:     lerp(from.UnitPrice, to.UnitPrice, frac),
		})
	}
	return points
}

func lerp(a, b, frac decimal.Decimal) decimal.Decimal {
	return a.Add(b.Sub(a).Mul(frac))
}

// Summarize buckets transactions by calendar month (UTC) and tracks the
// largest and mean absolute net values.
func Summarize(txs []*models.WalletTransaction) *models.TransactionsSummary {
	summary := &models.TransactionsSummary{
		Monthly:            make(map[string]models.MonthlyBucket),
		LargestTransaction: decimal.Zero,
		AverageTransaction: decimal.Zero,
		TotalCount:         len(txs),
	}

	total := decimal.Zero
	for _, tx := range txs {
		abs := tx.NetValue.Abs()
		total = total.Add(abs)

		month := tx.Timestamp.UTC().Format("2006-01")
		bucket := summary.Monthly[month]
		bucket.Count++
		bucket.Volume = bucket.Volume.Add(abs)
		summary.Monthly[month] = bucket

		if abs.GreaterThan(summary.LargestTransaction) {
			summary.LargestTransaction = abs
		}
	}
	if len(txs) > 0 {
		summary.AverageTransaction = total.Div(decimal.NewFromInt(int64(len(txs))))
	}

	return summary
}

// MonthKeys returns the summary's month keys in ascending order.
func MonthKeys(summary *models.TransactionsSummary) []string {
	keys := make([]string, 0, len(summary.Monthly))
	for k := range summary.Monthly {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
