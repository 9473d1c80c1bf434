package EVMRPC

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"bridgesentinel/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bridge = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	impl   = common.HexToAddress("0x0000000000000000000000000000000000001001")
)

type fakeChain struct {
	mu      sync.Mutex
	calls   map[string][]byte // hex selector -> return data
	storage map[common.Hash][]byte
	code    map[common.Address][]byte
	balance *big.Int
	err     error
	closed  int
	called  []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		calls:   make(map[string][]byte),
		storage: make(map[common.Hash][]byte),
		code:    make(map[common.Address][]byte),
		balance: new(big.Int),
	}
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func (f *fakeChain) respond(signature string, out []byte) {
	f.calls[common.Bytes2Hex(selector(signature))] = out
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := common.Bytes2Hex(msg.Data)
	f.called = append(f.called, key)
	out, ok := f.calls[key]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeChain) StorageAt(_ context.Context, _ common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.storage[key]; ok {
		return v, nil
	}
	return make([]byte, 32), nil
}

func (f *fakeChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.code[account], nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func dialerFor(chains map[string]*fakeChain) Dialer {
	return func(_ context.Context, url string) (ChainReader, error) {
		c, ok := chains[url]
		if !ok {
			return nil, errors.New("dial tcp: no such host")
		}
		return c, nil
	}
}

func newProbe(t *testing.T, chain *fakeChain, price *big.Int) *Probe {
	t.Helper()
	pool := NewPool([]string{"http://rpc"}, dialerFor(map[string]*fakeChain{"http://rpc": chain}))
	p, err := NewProbe(pool, price, 0)
	require.NoError(t, err)
	return p
}

func TestWithClient_FailsOver(t *testing.T) {
	bad := newFakeChain()
	bad.err = errors.New("429 too many requests")
	good := newFakeChain()
	pool := NewPool([]string{"http://down", "http://limited", "http://ok"},
		dialerFor(map[string]*fakeChain{"http://limited": bad, "http://ok": good}))

	var used []ChainReader
	res, err := WithClient(context.Background(), pool, func(client ChainReader) (string, error) {
		used = append(used, client)
		_, err := client.BalanceAt(context.Background(), bridge, nil)
		return "answered", err
	})
	require.NoError(t, err)
	assert.Equal(t, "answered", res)
	assert.Equal(t, []ChainReader{bad, good}, used)
	assert.Equal(t, 1, bad.closed)
	assert.Equal(t, 1, good.closed)
}

func TestWithClient_AllFail(t *testing.T) {
	pool := NewPool([]string{"http://down"}, dialerFor(nil))
	_, err := WithClient(context.Background(), pool, func(ChainReader) (int, error) { return 1, nil })
	assert.Error(t, err)

	_, err = WithClient(context.Background(), NewPool(nil, nil), func(ChainReader) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestProbe_IsPaused(t *testing.T) {
	chain := newFakeChain()
	p := newProbe(t, chain, nil)

	chain.respond(sigPaused, word(big.NewInt(1)))
	paused, err := p.IsPaused(context.Background(), bridge)
	require.NoError(t, err)
	assert.True(t, paused)

	chain.respond(sigPaused, word(big.NewInt(0)))
	paused, err = p.IsPaused(context.Background(), bridge)
	require.NoError(t, err)
	assert.False(t, paused)

	chain.respond(sigPaused, []byte{0x01})
	_, err = p.IsPaused(context.Background(), bridge)
	assert.ErrorIs(t, err, errMalformed)
}

func TestProbe_TVLAccessors(t *testing.T) {
	chain := newFakeChain()
	p := newProbe(t, chain, nil)
	chain.respond("totalValueLocked()", word(types.USDAmount(42)))

	tvl, err := p.TVLUsd(context.Background(), bridge)
	require.NoError(t, err)
	assert.Equal(t, 0, tvl.Cmp(types.USDAmount(42)))

	idx, ok := p.accessors.Get(bridge)
	require.True(t, ok)
	assert.Equal(t, "totalValueLocked()", tvlAccessors[idx])

	chain.called = nil
	_, err = p.TVLUsd(context.Background(), bridge)
	require.NoError(t, err)
	assert.Equal(t, []string{common.Bytes2Hex(selector("totalValueLocked()"))}, chain.called)
}

func TestProbe_TVLBalanceFallback(t *testing.T) {
	chain := newFakeChain()
	chain.balance = new(big.Int).Mul(big.NewInt(3), types.USD) // 3 ETH
	p := newProbe(t, chain, types.USDAmount(2_000))

	tvl, err := p.TVLUsd(context.Background(), bridge)
	require.NoError(t, err)
	assert.Equal(t, 0, tvl.Cmp(types.USDAmount(6_000)))

	noPrice := newProbe(t, chain, nil)
	_, err = noPrice.TVLUsd(context.Background(), bridge)
	assert.Error(t, err)
}

func TestProbe_CurrentImplementation(t *testing.T) {
	chain := newFakeChain()
	p := newProbe(t, chain, nil)

	_, ok, err := p.CurrentImplementation(context.Background(), bridge)
	require.NoError(t, err)
	assert.False(t, ok)

	chain.respond(sigImplementation, common.LeftPadBytes(impl.Bytes(), 32))
	got, ok, err := p.CurrentImplementation(context.Background(), bridge)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, impl, got)

	slotImpl := common.HexToAddress("0x0000000000000000000000000000000000002002")
	chain.storage[implementationSlot] = common.LeftPadBytes(slotImpl.Bytes(), 32)
	got, ok, err = p.CurrentImplementation(context.Background(), bridge)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, slotImpl, got)
}

func TestProbe_CodeFingerprint(t *testing.T) {
	chain := newFakeChain()
	p := newProbe(t, chain, nil)
	code := []byte{0x60, 0x80, 0x60, 0x40}
	chain.code[impl] = code

	fp, err := p.CodeFingerprint(context.Background(), impl)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(code), fp)

	has, err := p.HasCode(context.Background(), impl)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = p.HasCode(context.Background(), bridge)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSelector(t *testing.T) {
	// well known selector of paused()
	assert.Equal(t, "5c975abb", common.Bytes2Hex(selector("paused()")))
}
