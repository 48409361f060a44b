// Package explorer fetches complete transaction histories from an
// Etherscan-style block explorer API.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/GoofyComponent/GoofyChain/internal/config"
	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
	"github.com/GoofyComponent/GoofyChain/internal/logging"
	"github.com/GoofyComponent/GoofyChain/internal/types"
)

const (
	defaultBaseURL   = "https://api.etherscan.io/api"
	defaultPageSize  = 10000
	defaultPageDelay = 200 * time.Millisecond
)

// Client fetches external and internal transactions for an address.
// Both kind streams are paged ascending by block number and merged into one
// deterministic order.
type Client struct {
	apiKey    string
	baseURL   string
	pageSize  int
	pageDelay time.Duration
	client    *http.Client
}

// NewClient creates a new explorer API client.
func NewClient(cfg *config.EtherscanConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageDelay := cfg.PageDelay
	if pageDelay <= 0 {
		pageDelay = defaultPageDelay
	}

	return &Client{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		pageSize:  pageSize,
		pageDelay: pageDelay,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// explorerTransaction is the raw row shape returned by the explorer.
// All numeric fields arrive as decimal strings and are validated before any
// row reaches the rest of the pipeline.
type explorerTransaction struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	GasUsed     string `json:"gasUsed"`
	GasPrice    string `json:"gasPrice"`
	IsError     string `json:"isError"`
}

type kindResult struct {
	kind types.TxKind
	txs  []types.Transaction
	err  error
}

// FetchAll retrieves every external and internal transaction for an address
// in the given block range. The two kind queries run concurrently; each pages
// through the explorer until a partial page signals the end of data.
//
// Any page error aborts the whole fetch: a partial ledger would corrupt
// balance reconstruction downstream.
func (c *Client) FetchAll(ctx context.Context, address string, fromBlock, toBlock uint64) ([]types.OrderedTransaction, error) {
	logger := logging.FromContext(ctx).WithField("address", address)

	results := make(chan kindResult, 2)
	for _, kind := range []types.TxKind{types.TxKindExternal, types.TxKindInternal} {
		go func(kind types.TxKind) {
			txs, err := c.fetchKind(ctx, address, kind, fromBlock, toBlock)
			results <- kindResult{kind: kind, txs: txs, err: err}
		}(kind)
	}

	byKind := make(map[types.TxKind][]types.Transaction, 2)
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			return nil, apperrors.NewFetchFailedError(address, res.err)
		}
		byKind[res.kind] = res.txs
	}

	merged := make([]types.OrderedTransaction, 0, len(byKind[types.TxKindExternal])+len(byKind[types.TxKindInternal]))
	for _, kind := range []types.TxKind{types.TxKindExternal, types.TxKindInternal} {
		for i, tx := range byKind[kind] {
			merged = append(merged, types.OrderedTransaction{Transaction: tx, ArrivalIndex: i})
		}
	}
	types.SortOrdered(merged)

	logger.WithFields(map[string]interface{}{
		"external": len(byKind[types.TxKindExternal]),
		"internal": len(byKind[types.TxKindInternal]),
	}).Info("Fetched transaction history")

	return merged, nil
}

// fetchKind pages one kind stream ascending by block number. The explorer
// convention is that a full page implies more data may follow; a partial or
// empty page ends the stream. Successive page requests of the same kind are
// spaced at least pageDelay apart.
func (c *Client) fetchKind(ctx context.Context, address string, kind types.TxKind, fromBlock, toBlock uint64) ([]types.Transaction, error) {
	action := "txlist"
	if kind == types.TxKindInternal {
		action = "txlistinternal"
	}

	pacer := rate.NewLimiter(rate.Every(c.pageDelay), 1)

	var all []types.Transaction
	startBlock := fromBlock
	for {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := c.fetchPage(ctx, address, action, kind, startBlock, toBlock)
		if err != nil {
			return nil, fmt.Errorf("%s page at block %d: %w", action, startBlock, err)
		}

		all = append(all, page...)
		if len(page) < c.pageSize {
			break
		}
		startBlock = page[len(page)-1].BlockNumber + 1
	}

	return all, nil
}

// fetchPage issues a single paged request and parses the rows strictly.
func (c *Client) fetchPage(ctx context.Context, address, action string, kind types.TxKind, startBlock, endBlock uint64) ([]types.Transaction, error) {
	url := fmt.Sprintf("%s?module=account&action=%s&address=%s&startblock=%d&endblock=%d&page=1&offset=%d&sort=asc&apikey=%s",
		c.baseURL, action, address, startBlock, endBlock, c.pageSize, c.apiKey)

	body, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	var rawResp struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &rawResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if rawResp.Status != "1" {
		if rawResp.Message == "No transactions found" || rawResp.Message == "No records found" {
			return []types.Transaction{}, nil
		}
		if rawResp.Message == "NOTOK" && strings.Contains(string(rawResp.Result), "No record") {
			return []types.Transaction{}, nil
		}
		return nil, fmt.Errorf("explorer API error: %s", rawResp.Message)
	}

	// Some endpoints return a string result on empty data
	if len(rawResp.Result) > 0 && rawResp.Result[0] == '"' {
		return []types.Transaction{}, nil
	}

	var rows []explorerTransaction
	if err := json.Unmarshal(rawResp.Result, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse transactions: %w", err)
	}

	txs := make([]types.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := convertTransaction(row, kind)
		if err != nil {
			return nil, fmt.Errorf("malformed row %s: %w", row.Hash, err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

// convertTransaction validates a raw explorer row into a typed Transaction.
// Malformed rows are rejected at this boundary rather than propagated.
func convertTransaction(row explorerTransaction, kind types.TxKind) (types.Transaction, error) {
	var tx types.Transaction

	if row.Hash == "" {
		return tx, fmt.Errorf("missing hash")
	}

	blockNum, err := strconv.ParseUint(row.BlockNumber, 10, 64)
	if err != nil {
		return tx, fmt.Errorf("invalid block number %q", row.BlockNumber)
	}

	timestamp, err := strconv.ParseInt(row.TimeStamp, 10, 64)
	if err != nil {
		return tx, fmt.Errorf("invalid timestamp %q", row.TimeStamp)
	}

	value, ok := new(big.Int).SetString(row.Value, 10)
	if !ok {
		return tx, fmt.Errorf("invalid value %q", row.Value)
	}

	var gasUsed uint64
	if row.GasUsed != "" {
		gasUsed, err = strconv.ParseUint(row.GasUsed, 10, 64)
		if err != nil {
			return tx, fmt.Errorf("invalid gasUsed %q", row.GasUsed)
		}
	}

	// Internal transfers carry no gas price of their own
	gasPrice := new(big.Int)
	if row.GasPrice != "" {
		gasPrice, ok = new(big.Int).SetString(row.GasPrice, 10)
		if !ok {
			return tx, fmt.Errorf("invalid gasPrice %q", row.GasPrice)
		}
	}

	return types.Transaction{
		Hash:        row.Hash,
		From:        strings.ToLower(row.From),
		To:          strings.ToLower(row.To),
		BlockNumber: blockNum,
		Value:       value,
		GasUsed:     gasUsed,
		GasPrice:    gasPrice,
		Timestamp:   timestamp,
		Kind:        kind,
	}, nil
}

// doRequest performs an HTTP request with retry logic for rate limiting (429)
// and transient network failures.
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	const maxRetries = 5
	baseDelay := 1 * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to make request: %w", err)
			if attempt < maxRetries {
				if err := sleepBackoff(ctx, baseDelay, attempt, 30*time.Second); err != nil {
					return nil, err
				}
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			if attempt < maxRetries {
				delay := backoffDelay(baseDelay, attempt, 60*time.Second)
				if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil {
						delay = time.Duration(seconds) * time.Second
					}
				}
				if err := sleepFor(ctx, delay); err != nil {
					return nil, err
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func backoffDelay(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int, maxDelay time.Duration) error {
	return sleepFor(ctx, backoffDelay(base, attempt, maxDelay))
}

func sleepFor(ctx context.Context, delay time.Duration) error {
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}
