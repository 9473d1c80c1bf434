package EVMRPC

import (
	"context"
	"errors"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainReader is the subset of ethclient.Client the probes use.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

type Dialer func(ctx context.Context, url string) (ChainReader, error)

func DialEthclient(ctx context.Context, url string) (ChainReader, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var ErrNoEndpoints = errors.New("no RPC endpoints configured")

// Pool is an ordered list of RPC urls for one chain, tried in turn.
type Pool struct {
	rpcList []string
	dial    Dialer
}

func NewPool(rpcList []string, dial Dialer) *Pool {
	if dial == nil {
		dial = DialEthclient
	}
	return &Pool{rpcList: append([]string(nil), rpcList...), dial: dial}
}

func (p *Pool) URLs() []string {
	return append([]string(nil), p.rpcList...)
}

// WithClient runs f against the first RPC that connects and answers
// without error, falling over to the next one otherwise.
func WithClient[T any](ctx context.Context, p *Pool, f func(client ChainReader) (T, error)) (res T, err error) {
	if len(p.rpcList) == 0 {
		return res, ErrNoEndpoints
	}

	var client ChainReader
	for _, url := range p.rpcList {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		client, err = p.dial(ctx, url)
		if err != nil {
			log.Printf("Error connecting to %s: %s", url, err.Error())
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		log.Printf("RPC %s failed: %s", url, err.Error())
	}
	return
}
