// Package wallet talks JSON-RPC 2.0 to the headless wallet that signs and
// broadcasts units for the feed identity.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"price-oracle/internal/ledger"
)

// CodeNotEnoughFunds is the JSON-RPC error code the wallet uses when the payer
// cannot fund a unit.
const CodeNotEnoughFunds = -32001

// ErrRPC wraps JSON-RPC level failures.
var ErrRPC = errors.New("wallet rpc error")

// Options configure a Client.
type Options struct {
	URL              string
	Timeout          time.Duration
	SyncPollInterval time.Duration
}

// Client implements ledger.Writer.
type Client struct {
	url          string
	http         *http.Client
	pollInterval time.Duration
	nextID       atomic.Int64
	logger       zerolog.Logger
}

// NewClient constructs a wallet client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := opts.SyncPollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Client{
		url:          strings.TrimRight(opts.URL, "/"),
		http:         &http.Client{Timeout: timeout},
		pollInterval: poll,
		logger:       logger.With().Str("component", "wallet").Logger(),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if c.url == "" {
		return fmt.Errorf("%w: %s: wallet.rpc_url not configured", ErrRPC, method)
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: http status %d", ErrRPC, method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		if decoded.Error.Code == CodeNotEnoughFunds || strings.Contains(strings.ToLower(decoded.Error.Message), "not enough") {
			return fmt.Errorf("%s: %w: %s", method, ledger.ErrNotEnoughFunds, decoded.Error.Message)
		}
		return fmt.Errorf("%w: %s: %d %s", ErrRPC, method, decoded.Error.Code, decoded.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// IsSynced reports whether the wallet has caught up with the network.
func (c *Client) IsSynced(ctx context.Context) (bool, error) {
	var synced bool
	if err := c.call(ctx, "is_synced", nil, &synced); err != nil {
		return false, err
	}
	return synced, nil
}

// WaitUntilSynced implements ledger.Writer. It polls until the wallet reports
// sync or ctx ends; transport errors are logged and retried.
func (c *Client) WaitUntilSynced(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		synced, err := c.IsSynced(ctx)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Msg("sync check failed")
		case synced:
			c.logger.Info().Msg("wallet synced")
			return nil
		default:
			c.logger.Info().Dur("poll", c.pollInterval).Msg("waiting for wallet sync")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Address returns the single address of the wallet.
func (c *Client) Address(ctx context.Context) (string, error) {
	var address string
	if err := c.call(ctx, "get_address", nil, &address); err != nil {
		return "", err
	}
	if address == "" {
		return "", fmt.Errorf("%w: get_address returned an empty address", ErrRPC)
	}
	return address, nil
}

type postDataFeedParams struct {
	Payer   string          `json:"payer"`
	Outputs []ledger.Output `json:"outputs"`
	Message ledger.Message  `json:"message"`
}

// ComposeAndSubmit implements ledger.Writer.
func (c *Client) ComposeAndSubmit(ctx context.Context, payer string, outputs []ledger.Output, message ledger.Message) (ledger.Receipt, error) {
	var receipt ledger.Receipt
	params := postDataFeedParams{Payer: payer, Outputs: outputs, Message: message}
	if err := c.call(ctx, "post_data_feed", params, &receipt); err != nil {
		return ledger.Receipt{}, err
	}
	if receipt.Unit == "" {
		return ledger.Receipt{}, fmt.Errorf("%w: post_data_feed returned no unit", ErrRPC)
	}
	return receipt, nil
}

var _ ledger.Writer = (*Client)(nil)
