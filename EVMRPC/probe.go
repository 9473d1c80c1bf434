package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// EIP-1967 implementation slot, keccak256("eip1967.proxy.implementation") - 1
var implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// TVL accessor conventions, tried in order. Each returns uint256 USD with 18
// decimals.
var tvlAccessors = []string{
	"getTvlUsd()",
	"totalValueLocked()",
	"tvlUsd()",
}

const (
	sigPaused         = "paused()"
	sigImplementation = "implementation()"

	// index stored in the accessor cache when only the balance estimate works
	balanceEstimate = -1
)

var errMalformed = errors.New("malformed response")

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// Probe reads bridge state straight from the chain.
type Probe struct {
	pool *Pool
	// price of one whole native token in 18-decimal USD, used by the
	// balance fallback
	nativePriceUsd *big.Int
	// endpoint -> index into tvlAccessors that last answered
	accessors *lru.Cache[common.Address, int]
}

func NewProbe(pool *Pool, nativePriceUsd *big.Int, cacheSize int) (*Probe, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: RPC pool is required", types.ErrValidation)
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	accessors, err := lru.New[common.Address, int](cacheSize)
	if err != nil {
		return nil, err
	}
	if nativePriceUsd != nil {
		nativePriceUsd = new(big.Int).Set(nativePriceUsd)
	}
	return &Probe{pool: pool, nativePriceUsd: nativePriceUsd, accessors: accessors}, nil
}

func call(ctx context.Context, client ChainReader, to common.Address, signature string) ([]byte, error) {
	return client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: selector(signature)}, nil)
}

func decodeWord(out []byte) (*big.Int, error) {
	if len(out) < 32 {
		return nil, fmt.Errorf("%w: %d bytes", errMalformed, len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

func (p *Probe) IsPaused(ctx context.Context, endpoint common.Address) (bool, error) {
	return WithClient(ctx, p.pool, func(client ChainReader) (bool, error) {
		out, err := call(ctx, client, endpoint, sigPaused)
		if err != nil {
			return false, err
		}
		word, err := decodeWord(out)
		if err != nil {
			return false, fmt.Errorf("paused(): %w", err)
		}
		return word.Sign() != 0, nil
	})
}

// TVLUsd tries the known accessors, remembering which one answered, then
// falls back to the native balance times the configured price.
func (p *Probe) TVLUsd(ctx context.Context, endpoint common.Address) (*big.Int, error) {
	return WithClient(ctx, p.pool, func(client ChainReader) (*big.Int, error) {
		order := make([]int, 0, len(tvlAccessors))
		if idx, ok := p.accessors.Get(endpoint); ok && idx >= 0 {
			order = append(order, idx)
		}
		for i := range tvlAccessors {
			if len(order) == 0 || order[0] != i {
				order = append(order, i)
			}
		}

		for _, i := range order {
			out, err := call(ctx, client, endpoint, tvlAccessors[i])
			if err != nil {
				continue
			}
			tvl, err := decodeWord(out)
			if err != nil {
				continue
			}
			p.accessors.Add(endpoint, i)
			return tvl, nil
		}

		if p.nativePriceUsd == nil || p.nativePriceUsd.Sign() == 0 {
			return nil, fmt.Errorf("no TVL accessor answered on %s and no native price configured", endpoint.Hex())
		}
		balance, err := client.BalanceAt(ctx, endpoint, nil)
		if err != nil {
			return nil, err
		}
		p.accessors.Add(endpoint, balanceEstimate)
		tvl := new(big.Int).Mul(balance, p.nativePriceUsd)
		return tvl.Div(tvl, types.USD), nil
	})
}

// CurrentImplementation reads the EIP-1967 slot, then implementation().
func (p *Probe) CurrentImplementation(ctx context.Context, endpoint common.Address) (common.Address, bool, error) {
	type result struct {
		impl common.Address
		ok   bool
	}
	res, err := WithClient(ctx, p.pool, func(client ChainReader) (result, error) {
		slot, err := client.StorageAt(ctx, endpoint, implementationSlot, nil)
		if err != nil {
			return result{}, err
		}
		if impl := common.BytesToAddress(slot); len(slot) > 0 && impl != (common.Address{}) {
			return result{impl: impl, ok: true}, nil
		}

		out, err := call(ctx, client, endpoint, sigImplementation)
		if err != nil || len(out) < 32 {
			return result{}, nil
		}
		if impl := common.BytesToAddress(out[:32]); impl != (common.Address{}) {
			return result{impl: impl, ok: true}, nil
		}
		return result{}, nil
	})
	return res.impl, res.ok, err
}

// CodeFingerprint is the keccak256 of the deployed bytecode. An address
// without code hashes to the empty code hash.
func (p *Probe) CodeFingerprint(ctx context.Context, addr common.Address) (common.Hash, error) {
	return WithClient(ctx, p.pool, func(client ChainReader) (common.Hash, error) {
		code, err := client.CodeAt(ctx, addr, nil)
		if err != nil {
			return common.Hash{}, err
		}
		return crypto.Keccak256Hash(code), nil
	})
}

// HasCode reports whether addr has deployed bytecode.
func (p *Probe) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	return WithClient(ctx, p.pool, func(client ChainReader) (bool, error) {
		code, err := client.CodeAt(ctx, addr, nil)
		if err != nil {
			return false, err
		}
		return len(code) > 0, nil
	})
}
