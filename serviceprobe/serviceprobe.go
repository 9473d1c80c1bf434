// Package serviceprobe probes bridges through an off-chain JSON-RPC service,
// used for bridges whose state is not readable from a single contract.
package serviceprobe

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ybbus/jsonrpc"
)

const (
	methodIsPaused       = "sentinel_isPaused"
	methodTvlUsd         = "sentinel_tvlUsd"
	methodImplementation = "sentinel_implementation"
	methodCodeHash       = "sentinel_codeHash"
	methodLastActivity   = "sentinel_lastActivity"
)

type Client struct {
	url string
	rpc jsonrpc.RPCClient
}

func New(url string, timeout time.Duration, headers map[string]string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url: url,
		rpc: jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient:    &http.Client{Timeout: timeout},
			CustomHeaders: headers,
		}),
	}
}

// call fails on transport errors and on JSON-RPC error objects alike.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (*jsonrpc.RPCResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	response, err := c.rpc.Call(method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.url, method, err)
	}
	if response == nil {
		return nil, fmt.Errorf("%s %s: empty response", c.url, method)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%s %s: %w", c.url, method, response.Error)
	}
	return response, nil
}

func (c *Client) IsPaused(ctx context.Context, endpoint common.Address) (bool, error) {
	response, err := c.call(ctx, methodIsPaused, endpoint.Hex())
	if err != nil {
		return false, err
	}
	return response.GetBool()
}

// TVLUsd expects a base 10 string of 18-decimal USD, numbers that large do
// not survive a JSON float.
func (c *Client) TVLUsd(ctx context.Context, endpoint common.Address) (*big.Int, error) {
	response, err := c.call(ctx, methodTvlUsd, endpoint.Hex())
	if err != nil {
		return nil, err
	}
	s, err := response.GetString()
	if err != nil {
		return nil, err
	}
	tvl, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || tvl.Sign() < 0 {
		return nil, fmt.Errorf("%s %s: bad amount %q", c.url, methodTvlUsd, s)
	}
	return tvl, nil
}

// CurrentImplementation treats a null or empty result as no implementation.
func (c *Client) CurrentImplementation(ctx context.Context, endpoint common.Address) (common.Address, bool, error) {
	response, err := c.call(ctx, methodImplementation, endpoint.Hex())
	if err != nil {
		return common.Address{}, false, err
	}
	if response.Result == nil {
		return common.Address{}, false, nil
	}
	s, err := response.GetString()
	if err != nil {
		return common.Address{}, false, err
	}
	if s == "" {
		return common.Address{}, false, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, false, fmt.Errorf("%s %s: bad address %q", c.url, methodImplementation, s)
	}
	impl := common.HexToAddress(s)
	return impl, impl != (common.Address{}), nil
}

func (c *Client) CodeFingerprint(ctx context.Context, addr common.Address) (common.Hash, error) {
	response, err := c.call(ctx, methodCodeHash, addr.Hex())
	if err != nil {
		return common.Hash{}, err
	}
	s, err := response.GetString()
	if err != nil {
		return common.Hash{}, err
	}
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s %s: bad hash %q", c.url, methodCodeHash, s)
	}
	return common.BytesToHash(b), nil
}

// LastActivity returns the zero time when the service does not know.
func (c *Client) LastActivity(ctx context.Context, endpoint common.Address) (time.Time, error) {
	response, err := c.call(ctx, methodLastActivity, endpoint.Hex())
	if err != nil {
		return time.Time{}, err
	}
	if response.Result == nil {
		return time.Time{}, nil
	}
	unix, err := response.GetInt()
	if err != nil {
		return time.Time{}, err
	}
	if unix <= 0 {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0).UTC(), nil
}
