package explorer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoofyComponent/GoofyChain/internal/config"
	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
	"github.com/GoofyComponent/GoofyChain/internal/types"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return NewClient(&config.EtherscanConfig{
		APIKey:    "test-key",
		BaseURL:   ts.URL,
		PageSize:  2,
		PageDelay: time.Millisecond,
	})
}

func row(hash string, block uint64, value string) string {
	return fmt.Sprintf(`{"hash":%q,"blockNumber":"%d","timeStamp":"1700000000","from":"0xAAA","to":"0xBBB","value":%q,"gasUsed":"21000","gasPrice":"1000000000","isError":"0"}`,
		hash, block, value)
}

func okResponse(rows ...string) string {
	result := "["
	for i, r := range rows {
		if i > 0 {
			result += ","
		}
		result += r
	}
	result += "]"
	return fmt.Sprintf(`{"status":"1","message":"OK","result":%s}`, result)
}

func TestFetchAllPaging(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("action") {
		case "txlist":
			// Full first page ends at block 2, so the next request must
			// resume from block 3
			switch q.Get("startblock") {
			case "0":
				fmt.Fprint(w, okResponse(row("0xa1", 1, "1"), row("0xa2", 2, "2")))
			case "3":
				fmt.Fprint(w, okResponse(row("0xa3", 5, "3")))
			default:
				t.Errorf("unexpected startblock %q", q.Get("startblock"))
			}
		case "txlistinternal":
			fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
		}
	})

	txs, err := client.FetchAll(context.Background(), "0xabc", 0, 99999999)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, "0xa1", txs[0].Hash)
	assert.Equal(t, "0xa2", txs[1].Hash)
	assert.Equal(t, "0xa3", txs[2].Hash)
	// Boundary parsing lowercases addresses
	assert.Equal(t, "0xaaa", txs[0].From)
}

func TestFetchAllMergesKindsDeterministically(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "txlist":
			fmt.Fprint(w, okResponse(row("0xext", 7, "1")))
		case "txlistinternal":
			fmt.Fprint(w, okResponse(row("0xint1", 3, "1"), row("0xint2", 7, "2")))
		}
	})

	txs, err := client.FetchAll(context.Background(), "0xabc", 0, 99999999)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	// Block ascending; external before internal on the block-7 tie
	assert.Equal(t, "0xint1", txs[0].Hash)
	assert.Equal(t, "0xext", txs[1].Hash)
	assert.Equal(t, "0xint2", txs[2].Hash)
	assert.Equal(t, types.TxKindExternal, txs[1].Kind)
	assert.Equal(t, types.TxKindInternal, txs[2].Kind)
}

func TestFetchAllEmptyWallet(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	})

	txs, err := client.FetchAll(context.Background(), "0xabc", 0, 99999999)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestFetchAllProviderError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "txlistinternal" {
			fmt.Fprint(w, `{"status":"0","message":"Error! Invalid API key","result":null}`)
			return
		}
		fmt.Fprint(w, okResponse(row("0xa1", 1, "1")))
	})

	_, err := client.FetchAll(context.Background(), "0xabc", 0, 99999999)
	require.Error(t, err)
	// One failed stream poisons the whole fetch
	assert.True(t, apperrors.HasCode(err, apperrors.CodeFetchFailed))
}

func TestFetchAllRejectsMalformedRows(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "txlist" {
			fmt.Fprint(w, okResponse(row("0xbad", 1, "not-a-number")))
			return
		}
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	})

	_, err := client.FetchAll(context.Background(), "0xabc", 0, 99999999)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeFetchFailed))
}

func TestFetchAllRetriesOn429(t *testing.T) {
	var calls int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == "txlistinternal" {
			fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, okResponse(row("0xa1", 1, "1")))
	})

	txs, err := client.FetchAll(context.Background(), "0xabc", 0, 99999999)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestFetchAllContextCancellation(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchAll(ctx, "0xabc", 0, 99999999)
	require.Error(t, err)
}
