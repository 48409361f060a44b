// Package service implements the wallet analytics pipeline: fetch the full
// ledger, reconstruct balances and fiat values, persist, and aggregate.
package service

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
	"github.com/GoofyComponent/GoofyChain/internal/logging"
	"github.com/GoofyComponent/GoofyChain/internal/models"
	"github.com/GoofyComponent/GoofyChain/internal/types"
)

// Full chain scan range used when analyzing an address from genesis.
const (
	scanFromBlock uint64 = 0
	scanToBlock   uint64 = 99999999
)

// LedgerFetcher retrieves the complete merged transaction history of an
// address.
type LedgerFetcher interface {
	FetchAll(ctx context.Context, address string, fromBlock, toBlock uint64) ([]types.OrderedTransaction, error)
}

// PriceResolver returns the historical unit price for the UTC day containing
// a timestamp.
type PriceResolver interface {
	Resolve(ctx context.Context, tsUnix int64, currency string) (decimal.Decimal, error)
}

// AnalysisStore persists analyses and their transaction rows.
type AnalysisStore interface {
	FindByAddress(ctx context.Context, address string) (*models.WalletAnalysis, error)
	Upsert(ctx context.Context, analysis *models.WalletAnalysis) error
}

// AnalysisCache is an optional short-TTL cache in front of the pipeline.
type AnalysisCache interface {
	Get(ctx context.Context, address, currency string) (*models.WalletAnalysis, error)
	Set(ctx context.Context, analysis *models.WalletAnalysis) error
	Invalidate(ctx context.Context, address string) error
}

// AnalysisService orchestrates wallet analysis.
type AnalysisService struct {
	fetcher     LedgerFetcher
	resolver    PriceResolver
	store       AnalysisStore
	cache       AnalysisCache // may be nil
	defaultFiat string
}

// NewAnalysisService creates the analysis pipeline. cache may be nil.
func NewAnalysisService(fetcher LedgerFetcher, resolver PriceResolver, store AnalysisStore, cache AnalysisCache, defaultFiat string) *AnalysisService {
	if defaultFiat == "" {
		defaultFiat = "EUR"
	}
	return &AnalysisService{
		fetcher:     fetcher,
		resolver:    resolver,
		store:       store,
		cache:       cache,
		defaultFiat: defaultFiat,
	}
}

// normalizeInput validates and canonicalizes the address and currency.
func (s *AnalysisService) normalizeInput(address, currency string) (string, string, error) {
	if !common.IsHexAddress(address) {
		return "", "", apperrors.NewInvalidAddressError(address)
	}
	address = strings.ToLower(address)

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.defaultFiat
	}
	return address, currency, nil
}

// AnalyzeWallet returns the analysis for an address in the given currency,
// reusing a persisted analysis when its currency matches and rebuilding the
// full ledger otherwise. currency may be empty to use the default.
func (s *AnalysisService) AnalyzeWallet(ctx context.Context, address, currency string) (*models.WalletAnalysis, error) {
	address, currency, err := s.normalizeInput(address, currency)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"address":  address,
		"currency": currency,
	})

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, address, currency)
		if err != nil {
			logger.WithError(err).Warn("Analysis cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	existing, err := s.store.FindByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	// A persisted analysis in another currency is stale for this request:
	// fiat values are currency-bound, so the pipeline runs again.
	if existing != nil && existing.Currency == currency {
		s.cacheSet(ctx, existing)
		return existing, nil
	}

	analysis, err := s.runPipeline(ctx, address, currency)
	if err != nil {
		return nil, err
	}

	if err := s.store.Upsert(ctx, analysis); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, address); err != nil {
			logger.WithError(err).Warn("Analysis cache invalidation failed")
		}
	}
	s.cacheSet(ctx, analysis)

	logger.WithField("transactions", analysis.TotalTransactions).Info("Wallet analysis completed")
	return analysis, nil
}

func (s *AnalysisService) cacheSet(ctx context.Context, analysis *models.WalletAnalysis) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, analysis); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Analysis cache write failed")
	}
}

// GetAnalysis returns the persisted analysis for an address without
// triggering a rebuild.
func (s *AnalysisService) GetAnalysis(ctx context.Context, address string) (*models.WalletAnalysis, error) {
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

// runPipeline fetches the full ledger and reconstructs it.
func (s *AnalysisService) runPipeline(ctx context.Context, address, currency string) (*models.WalletAnalysis, error) {
	txs, err := s.fetcher.FetchAll(ctx, address, scanFromBlock, scanToBlock)
	if err != nil {
		return nil, err
	}
	return s.reconstruct(ctx, address, currency, txs)
}

// reconstruct walks the merged ledger in order, maintaining the running
// balance and enriching each entry with fee, net value, and fiat value. Any
// unresolvable price aborts the whole reconstruction: a partially priced
// ledger would report a wrong portfolio value.
func (s *AnalysisService) reconstruct(ctx context.Context, address, currency string, txs []types.OrderedTransaction) (*models.WalletAnalysis, error) {
	prices, err := s.resolveDays(ctx, currency, txs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	analysis := &models.WalletAnalysis{
		ID:                uuid.NewString(),
		WalletAddress:     address,
		Currency:          currency,
		TotalIncoming:     decimal.Zero,
		TotalOutgoing:     decimal.Zero,
		TotalFees:         decimal.Zero,
		NetBalance:        decimal.Zero,
		TotalTransactions: len(txs),
		LastUpdated:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
		Transactions:      make([]*models.WalletTransaction, 0, len(txs)),
	}

	balance := decimal.Zero
	for i, otx := range txs {
		value := weiToDecimal(otx.Value)
		isIncoming := otx.To == address

		// Fees are attributable only when the analyzed address submitted
		// the transaction; Fee() is already zero for internal transfers.
		fee := decimal.Zero
		if !isIncoming {
			fee = weiToDecimal(otx.Fee())
		}

		netValue := value
		if !isIncoming {
			netValue = value.Add(fee).Neg()
		}

		price := prices[dayOf(otx.Timestamp)]

		balanceBefore := balance
		balance = balance.Add(netValue)

		row := &models.WalletTransaction{
			ID:            uuid.NewString(),
			Hash:          otx.Hash,
			WalletAddress: address,
			Kind:          otx.Kind,
			BlockNumber:   otx.BlockNumber,
			Seq:           i,
			FromAddress:   otx.From,
			ToAddress:     otx.To,
			Value:         value,
			Fee:           fee,
			NetValue:      netValue,
			UnitPrice:     price,
			FiatValue:     netValue.Mul(price),
			BalanceBefore: balanceBefore,
			BalanceAfter:  balance,
			Timestamp:     time.Unix(otx.Timestamp, 0).UTC(),
			IsIncoming:    isIncoming,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		analysis.Transactions = append(analysis.Transactions, row)

		if isIncoming {
			analysis.TotalIncoming = analysis.TotalIncoming.Add(value)
		} else {
			analysis.TotalOutgoing = analysis.TotalOutgoing.Add(value)
			analysis.TotalFees = analysis.TotalFees.Add(fee)
		}
	}
	analysis.NetBalance = balance

	return analysis, nil
}

// resolveDays resolves the price of every distinct UTC day touched by the
// ledger before the balance walk starts. The resolver collapses duplicate
// lookups and paces the provider, so days are simply resolved in order.
func (s *AnalysisService) resolveDays(ctx context.Context, currency string, txs []types.OrderedTransaction) (map[int64]decimal.Decimal, error) {
	prices := make(map[int64]decimal.Decimal)
	for _, otx := range txs {
		day := dayOf(otx.Timestamp)
		if _, ok := prices[day]; ok {
			continue
		}
		price, err := s.resolver.Resolve(ctx, day, currency)
		if err != nil {
			return nil, err
		}
		prices[day] = price
	}
	return prices, nil
}

// dayOf truncates a unix timestamp to its UTC day.
func dayOf(tsUnix int64) int64 {
	return tsUnix - tsUnix%86400
}

// weiToDecimal converts a smallest-unit integer amount to native units.
func weiToDecimal(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}
