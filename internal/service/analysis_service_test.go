package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
	"github.com/GoofyComponent/GoofyChain/internal/models"
	"github.com/GoofyComponent/GoofyChain/internal/types"
)

const (
	walletAddr = "0x1111111111111111111111111111111111111111"
	otherAddr  = "0x2222222222222222222222222222222222222222"
)

type fakeFetcher struct {
	txs   []types.OrderedTransaction
	err   error
	calls int
}

func (f *fakeFetcher) FetchAll(ctx context.Context, address string, fromBlock, toBlock uint64) ([]types.OrderedTransaction, error) {
	f.calls++
	return f.txs, f.err
}

type fakeResolver struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, tsUnix int64, currency string) (decimal.Decimal, error) {
	f.calls++
	return f.price, f.err
}

type fakeStore struct {
	existing *models.WalletAnalysis
	saved    *models.WalletAnalysis
}

func (f *fakeStore) FindByAddress(ctx context.Context, address string) (*models.WalletAnalysis, error) {
	return f.existing, nil
}

func (f *fakeStore) Upsert(ctx context.Context, analysis *models.WalletAnalysis) error {
	f.saved = analysis
	return nil
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAnalyzeWalletReconstruction(t *testing.T) {
	// An incoming 10 at t0, then an outgoing 3 with a 0.1 fee at t1,
	// priced at 100 throughout.
	fetcher := &fakeFetcher{txs: []types.OrderedTransaction{
		{
			Transaction: types.Transaction{
				Hash: "0xin", From: otherAddr, To: walletAddr,
				BlockNumber: 10, Value: eth(10),
				GasUsed: 21000, GasPrice: big.NewInt(1),
				Timestamp: 1700000000, Kind: types.TxKindExternal,
			},
		},
		{
			Transaction: types.Transaction{
				Hash: "0xout", From: walletAddr, To: otherAddr,
				BlockNumber: 20, Value: eth(3),
				// 100000 * 1e12 wei = 0.1 native
				GasUsed: 100000, GasPrice: big.NewInt(1000000000000),
				Timestamp: 1700086400, Kind: types.TxKindExternal,
			},
		},
	}}
	resolver := &fakeResolver{price: dec("100")}
	store := &fakeStore{}

	svc := NewAnalysisService(fetcher, resolver, store, nil, "EUR")

	analysis, err := svc.AnalyzeWallet(context.Background(), walletAddr, "EUR")
	require.NoError(t, err)
	require.Len(t, analysis.Transactions, 2)

	in, out := analysis.Transactions[0], analysis.Transactions[1]

	assert.True(t, in.IsIncoming)
	assert.True(t, in.BalanceBefore.Equal(dec("0")))
	assert.True(t, in.BalanceAfter.Equal(dec("10")))
	assert.True(t, in.NetValue.Equal(dec("10")))
	assert.True(t, in.Fee.IsZero())
	assert.True(t, in.FiatValue.Equal(dec("1000")))

	assert.False(t, out.IsIncoming)
	assert.True(t, out.Fee.Equal(dec("0.1")))
	assert.True(t, out.NetValue.Equal(dec("-3.1")))
	assert.True(t, out.BalanceBefore.Equal(dec("10")))
	assert.True(t, out.BalanceAfter.Equal(dec("6.9")))
	assert.True(t, out.FiatValue.Equal(dec("-310")))

	assert.True(t, analysis.TotalIncoming.Equal(dec("10")))
	assert.True(t, analysis.TotalOutgoing.Equal(dec("3")))
	assert.True(t, analysis.TotalFees.Equal(dec("0.1")))
	assert.True(t, analysis.NetBalance.Equal(dec("6.9")))
	assert.Equal(t, 2, analysis.TotalTransactions)

	// Sequence numbers follow merged ledger order
	assert.Equal(t, 0, in.Seq)
	assert.Equal(t, 1, out.Seq)

	require.NotNil(t, store.saved)
	assert.Equal(t, walletAddr, store.saved.WalletAddress)
}

func TestAnalyzeWalletInternalTransferHasNoFee(t *testing.T) {
	fetcher := &fakeFetcher{txs: []types.OrderedTransaction{
		{
			Transaction: types.Transaction{
				Hash: "0xint", From: walletAddr, To: otherAddr,
				BlockNumber: 10, Value: eth(2),
				GasUsed: 50000, GasPrice: new(big.Int),
				Timestamp: 1700000000, Kind: types.TxKindInternal,
			},
		},
	}}
	store := &fakeStore{}
	svc := NewAnalysisService(fetcher, &fakeResolver{price: dec("100")}, store, nil, "EUR")

	analysis, err := svc.AnalyzeWallet(context.Background(), walletAddr, "EUR")
	require.NoError(t, err)
	require.Len(t, analysis.Transactions, 1)

	tx := analysis.Transactions[0]
	assert.True(t, tx.Fee.IsZero())
	assert.True(t, tx.NetValue.Equal(dec("-2")))
	assert.True(t, analysis.TotalFees.IsZero())
}

func TestAnalyzeWalletReusesMatchingCurrency(t *testing.T) {
	existing := &models.WalletAnalysis{
		WalletAddress: walletAddr,
		Currency:      "EUR",
		NetBalance:    dec("5"),
	}
	fetcher := &fakeFetcher{}
	store := &fakeStore{existing: existing}
	svc := NewAnalysisService(fetcher, &fakeResolver{}, store, nil, "EUR")

	analysis, err := svc.AnalyzeWallet(context.Background(), walletAddr, "EUR")
	require.NoError(t, err)
	assert.Same(t, existing, analysis)
	assert.Zero(t, fetcher.calls)
}

func TestAnalyzeWalletRebuildsOnCurrencyChange(t *testing.T) {
	existing := &models.WalletAnalysis{
		WalletAddress: walletAddr,
		Currency:      "EUR",
	}
	fetcher := &fakeFetcher{}
	store := &fakeStore{existing: existing}
	svc := NewAnalysisService(fetcher, &fakeResolver{price: dec("100")}, store, nil, "EUR")

	analysis, err := svc.AnalyzeWallet(context.Background(), walletAddr, "USD")
	require.NoError(t, err)
	assert.Equal(t, "USD", analysis.Currency)
	assert.Equal(t, 1, fetcher.calls)
	require.NotNil(t, store.saved)
}

func TestAnalyzeWalletInvalidAddress(t *testing.T) {
	svc := NewAnalysisService(&fakeFetcher{}, &fakeResolver{}, &fakeStore{}, nil, "EUR")

	_, err := svc.AnalyzeWallet(context.Background(), "not-an-address", "EUR")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidAddress))
}

func TestAnalyzeWalletPropagatesPriceFailure(t *testing.T) {
	fetcher := &fakeFetcher{txs: []types.OrderedTransaction{
		{Transaction: types.Transaction{
			Hash: "0xin", From: otherAddr, To: walletAddr,
			BlockNumber: 1, Value: eth(1), Timestamp: 1700000000,
			Kind: types.TxKindExternal,
		}},
	}}
	resolver := &fakeResolver{err: apperrors.NewPriceUnavailableError(1700000000, "EUR", nil)}
	store := &fakeStore{}
	svc := NewAnalysisService(fetcher, resolver, store, nil, "EUR")

	_, err := svc.AnalyzeWallet(context.Background(), walletAddr, "EUR")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePriceUnavailable))
	assert.Nil(t, store.saved, "a failed reconstruction must not persist anything")
}

func TestGetAnalysisNotFound(t *testing.T) {
	svc := NewAnalysisService(&fakeFetcher{}, &fakeResolver{}, &fakeStore{}, nil, "EUR")

	_, err := svc.GetAnalysis(context.Background(), walletAddr)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

// Balance conservation: for any ledger, the final net balance equals
// totalIncoming - totalOutgoing - totalFees, and matches the last running
// balance.
func TestReconstructionBalanceConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("net balance is conserved", prop.ForAll(
		func(amounts []int64) bool {
			txs := make([]types.OrderedTransaction, 0, len(amounts))
			for i, amount := range amounts {
				from, to := otherAddr, walletAddr
				value := amount
				if amount < 0 {
					from, to = walletAddr, otherAddr
					value = -amount
				}
				txs = append(txs, types.OrderedTransaction{
					Transaction: types.Transaction{
						Hash: "0xh", From: from, To: to,
						BlockNumber: uint64(i + 1),
						Value:       big.NewInt(value),
						GasUsed:     uint64(i % 3 * 21000),
						GasPrice:    big.NewInt(int64(i % 2)),
						Timestamp:   1700000000 + int64(i)*3600,
						Kind:        types.TxKindExternal,
					},
					ArrivalIndex: i,
				})
			}

			store := &fakeStore{}
			svc := NewAnalysisService(&fakeFetcher{txs: txs}, &fakeResolver{price: dec("42")}, store, nil, "EUR")
			analysis, err := svc.AnalyzeWallet(context.Background(), walletAddr, "EUR")
			if err != nil {
				return false
			}

			expected := analysis.TotalIncoming.Sub(analysis.TotalOutgoing).Sub(analysis.TotalFees)
			if !analysis.NetBalance.Equal(expected) {
				return false
			}
			for i, tx := range analysis.Transactions {
				if !tx.BalanceAfter.Equal(tx.BalanceBefore.Add(tx.NetValue)) {
					return false
				}
				if i > 0 && !tx.BalanceBefore.Equal(analysis.Transactions[i-1].BalanceAfter) {
					return false
				}
			}
			if len(analysis.Transactions) > 0 {
				last := analysis.Transactions[len(analysis.Transactions)-1]
				return analysis.NetBalance.Equal(last.BalanceAfter)
			}
			return analysis.NetBalance.IsZero()
		},
		gen.SliceOf(gen.Int64Range(-1_000_000, 1_000_000)),
	))

	properties.TestingRun(t)
}
