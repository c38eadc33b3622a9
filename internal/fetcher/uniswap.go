package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const pairABIJSON = `[
{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}
]`

var pairABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic("failed to parse pair ABI: " + err.Error())
	}
	pairABI = parsed
}

// ErrEmptyReserves is returned when a pool holds no liquidity on one side.
var ErrEmptyReserves = errors.New("pool reserves are empty")

// Pool describes a constant-product pair whose spot price feeds one series.
type Pool struct {
	Series       string
	PairAddress  string
	TokenAddress string
	Decimals0    int32
	Decimals1    int32
}

// PoolOptions parameterise the on-chain pool source.
type PoolOptions struct {
	Name    string
	RPCURL  string
	Timeout time.Duration
	Pools   []Pool
}

// UniswapPair prices a token from the reserves of Uniswap V2 style pairs.
type UniswapPair struct {
	opts      PoolOptions
	logger    zerolog.Logger
	caller    ethereum.ContractCaller
	clientMux sync.Mutex
}

// NewUniswapPair builds a pool source that dials RPCURL lazily.
func NewUniswapPair(opts PoolOptions, logger zerolog.Logger) *UniswapPair {
	if opts.Name == "" {
		opts.Name = "evm"
	}
	return &UniswapPair{opts: opts, logger: logger.With().Str("component", "source_"+opts.Name).Logger()}
}

// NewUniswapPairWithCaller uses caller instead of dialing an RPC endpoint.
func NewUniswapPairWithCaller(opts PoolOptions, caller ethereum.ContractCaller, logger zerolog.Logger) *UniswapPair {
	p := NewUniswapPair(opts, logger)
	p.caller = caller
	return p
}

// Name implements Source.
func (u *UniswapPair) Name() string { return u.opts.Name }

// Fetch implements Source.
func (u *UniswapPair) Fetch(ctx context.Context) (Observations, error) {
	if len(u.opts.Pools) == 0 {
		return nil, fmt.Errorf("%s: %w", u.opts.Name, ErrNotConfigured)
	}

	timeout := u.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := u.getCaller(ctx)
	if err != nil {
		return nil, err
	}

	out := make(Observations, len(u.opts.Pools))
	var lastErr error
	for _, pool := range u.opts.Pools {
		price, err := u.fetchPool(ctx, caller, pool)
		if err != nil {
			u.logger.Warn().Err(err).Str("pair", pool.PairAddress).Str("series", pool.Series).Msg("pool price failed")
			lastErr = err
			continue
		}
		out[pool.Series] = price
	}

	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%s: %w", u.opts.Name, ErrNoPrices)
	}
	return out, nil
}

func (u *UniswapPair) fetchPool(ctx context.Context, caller ethereum.ContractCaller, pool Pool) (decimal.Decimal, error) {
	pair := common.HexToAddress(pool.PairAddress)

	token0Out, err := callPair(ctx, caller, pair, "token0")
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(token0Out) != 1 {
		return decimal.Decimal{}, errors.New("unexpected token0 response")
	}
	token0, ok := token0Out[0].(common.Address)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode token0 output")
	}

	reservesOut, err := callPair(ctx, caller, pair, "getReserves")
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(reservesOut) != 3 {
		return decimal.Decimal{}, errors.New("unexpected getReserves response")
	}
	reserve0, ok0 := reservesOut[0].(*big.Int)
	reserve1, ok1 := reservesOut[1].(*big.Int)
	if !ok0 || !ok1 {
		return decimal.Decimal{}, errors.New("failed to decode getReserves output")
	}

	isToken0 := token0 == common.HexToAddress(pool.TokenAddress)
	return poolPrice(reserve0, reserve1, pool.Decimals0, pool.Decimals1, isToken0)
}

func callPair(ctx context.Context, caller ethereum.ContractCaller, pair common.Address, method string) ([]any, error) {
	payload, err := pairABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return pairABI.Unpack(method, res)
}

// poolPrice returns the price of the tracked token in units of the other
// side of the pool, after scaling each reserve by its token decimals.
func poolPrice(reserve0, reserve1 *big.Int, decimals0, decimals1 int32, trackedIsToken0 bool) (decimal.Decimal, error) {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return decimal.Decimal{}, ErrEmptyReserves
	}
	r0 := decimal.NewFromBigInt(reserve0, -decimals0)
	r1 := decimal.NewFromBigInt(reserve1, -decimals1)
	if trackedIsToken0 {
		return r1.Div(r0), nil
	}
	return r0.Div(r1), nil
}

func (u *UniswapPair) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	u.clientMux.Lock()
	defer u.clientMux.Unlock()

	if u.caller != nil {
		return u.caller, nil
	}
	if u.opts.RPCURL == "" {
		return nil, fmt.Errorf("%s: rpc url: %w", u.opts.Name, ErrNotConfigured)
	}

	client, err := ethclient.DialContext(ctx, u.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	u.caller = client
	return client, nil
}

var _ Source = (*UniswapPair)(nil)
