package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"weather-options/internal/models"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// Config holds the JSON-RPC connection and signer settings
type Config struct {
	RPCURL              string
	ChainID             int64
	PrivateKey          string
	Addresses           Addresses
	RequestsPerSecond   float64
	Burst               int
	ReceiptPollInterval time.Duration
}

type boundContract struct {
	name string
	abi  abi.ABI
	*bind.BoundContract
}

// EthClient implements Client over go-ethereum's ethclient
type EthClient struct {
	eth     *ethclient.Client
	addrs   Addresses
	auth    *bind.TransactOpts
	limiter *rate.Limiter
	poll    time.Duration
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	// serializes submissions so nonces are fetched one transaction at a time
	txMu sync.Mutex

	option   *boundContract
	consumer *boundContract
	vault    *boundContract
	weth     *boundContract
}

// NewEthClient dials the RPC endpoint and binds the protocol contracts.
// Without a private key the client is read-only and Account reports disconnected.
func NewEthClient(ctx context.Context, cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*EthClient, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial rpc endpoint")
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, errors.Wrap(err, "failed to read chain id")
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, errors.Errorf("rpc endpoint serves chain %s, configured %d", chainID, cfg.ChainID)
	}

	poll := cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &EthClient{
		eth:     eth,
		addrs:   cfg.Addresses,
		limiter: rate.NewLimiter(limit, burst),
		poll:    poll,
		logger:  logger.WithFields(logging.Fields{"component": "chain"}),
		metrics: metricsCollector,
	}

	bindings := []struct {
		dst  **boundContract
		name string
		json string
		addr common.Address
	}{
		{&c.option, "option", weatherOptionABI, cfg.Addresses.WeatherOption},
		{&c.consumer, "consumer", premiumConsumerABI, cfg.Addresses.PremiumConsumer},
		{&c.vault, "vault", vaultABI, cfg.Addresses.Vault},
		{&c.weth, "weth", wethABI, cfg.Addresses.WETH},
	}
	for _, b := range bindings {
		parsed, err := abi.JSON(strings.NewReader(b.json))
		if err != nil {
			eth.Close()
			return nil, errors.Wrapf(err, "failed to parse %s abi", b.name)
		}
		*b.dst = &boundContract{
			name:          b.name,
			abi:           parsed,
			BoundContract: bind.NewBoundContract(b.addr, parsed, eth, eth, eth),
		}
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			eth.Close()
			return nil, errors.Wrap(err, "invalid private key")
		}
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			eth.Close()
			return nil, errors.Wrap(err, "failed to build transactor")
		}
		c.auth = auth
	}

	account, connected := c.Account()
	logger.Info(ctx, "[CHAIN_INIT] RPC client ready", logging.Fields{
		"chain_id":  chainID.String(),
		"account":   account.Hex(),
		"connected": connected,
	})

	return c, nil
}

// Close releases the RPC connection
func (c *EthClient) Close() {
	c.eth.Close()
}

// Account returns the signer address, if any
func (c *EthClient) Account() (common.Address, bool) {
	if c.auth == nil {
		return common.Address{}, false
	}
	return c.auth.From, true
}

// Addresses returns the bound contract addresses
func (c *EthClient) Addresses() Addresses {
	return c.addrs
}

func (c *EthClient) call(ctx context.Context, bc *boundContract, method string, args ...interface{}) ([]interface{}, error) {
	label := bc.name + "." + method
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "rate limit %s", label)
	}

	timer := c.metrics.ChainTimer(label)
	defer timer.ObserveDuration()

	opts := &bind.CallOpts{Context: ctx}
	if c.auth != nil {
		opts.From = c.auth.From
	}

	var out []interface{}
	if err := bc.Call(opts, &out, method, args...); err != nil {
		c.metrics.RecordChainError(label)
		return nil, errors.Wrapf(err, "call %s", label)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("call %s returned no values", label)
	}
	return out, nil
}

func (c *EthClient) callBig(ctx context.Context, bc *boundContract, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, bc, method, args...)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *EthClient) transact(ctx context.Context, bc *boundContract, method string, value *big.Int, gasLimit uint64, args ...interface{}) (common.Hash, error) {
	if c.auth == nil {
		return common.Hash{}, models.ErrNotConnected
	}
	label := bc.name + "." + method

	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts := *c.auth
	opts.Context = ctx
	opts.Value = value
	opts.GasLimit = gasLimit

	timer := c.metrics.ChainTimer(label)
	tx, err := bc.Transact(&opts, method, args...)
	timer.ObserveDuration()
	if err != nil {
		c.metrics.RecordChainError(label)
		return common.Hash{}, errors.Wrapf(err, "submit %s", label)
	}

	c.logger.Info(ctx, "[CHAIN_TX_SENT] Transaction broadcast", logging.Fields{
		"method": label,
		"hash":   tx.Hash().Hex(),
		"nonce":  tx.Nonce(),
	})
	return tx.Hash(), nil
}

// LatestBlockTime returns the timestamp of the latest block
func (c *EthClient) LatestBlockTime(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, errors.Wrap(err, "rate limit latest block")
	}
	timer := c.metrics.ChainTimer("eth.latestBlock")
	defer timer.ObserveDuration()

	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		c.metrics.RecordChainError("eth.latestBlock")
		return 0, errors.Wrap(err, "read latest block")
	}
	return header.Time, nil
}

func (c *EthClient) AvailableLiquidity(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, c.vault, "availableLiquidity")
}

func (c *EthClient) MinNotional(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, c.option, "minNotional")
}

func (c *EthClient) MinPremium(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, c.option, "minPremium")
}

func (c *EthClient) ProtocolFeeBps(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, c.option, "protocolFeeBps")
}

func (c *EthClient) IsRequestFulfilled(ctx context.Context, requestID common.Hash) (bool, error) {
	out, err := c.call(ctx, c.consumer, "isRequestFulfilled", requestID)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *EthClient) PremiumByRequest(ctx context.Context, requestID common.Hash) (*big.Int, error) {
	return c.callBig(ctx, c.consumer, "premiumByRequest", requestID)
}

type optionTuple struct {
	TokenId *big.Int
	Terms   struct {
		OptionType uint8
		Latitude   string
		Longitude  string
		StartDate  *big.Int
		ExpiryDate *big.Int
		StrikeMM   *big.Int
		SpreadMM   *big.Int
		Notional   *big.Int
		Premium    *big.Int
	}
	State struct {
		Status            uint8
		Buyer             common.Address
		CreatedAt         *big.Int
		RequestId         [32]byte
		LocationKey       [32]byte
		ActualRainfall    *big.Int
		FinalPayout       *big.Int
		OwnerAtSettlement common.Address
	}
}

func (c *EthClient) GetOption(ctx context.Context, tokenID *big.Int) (*models.Position, error) {
	out, err := c.call(ctx, c.option, "getOption", tokenID)
	if err != nil {
		return nil, err
	}
	t := abi.ConvertType(out[0], new(optionTuple)).(*optionTuple)

	return &models.Position{
		TokenID: t.TokenId,
		Terms: models.OptionTerms{
			Kind:       models.OptionKind(t.Terms.OptionType),
			Latitude:   t.Terms.Latitude,
			Longitude:  t.Terms.Longitude,
			StartDate:  t.Terms.StartDate.Uint64(),
			ExpiryDate: t.Terms.ExpiryDate.Uint64(),
			StrikeMM:   t.Terms.StrikeMM,
			SpreadMM:   t.Terms.SpreadMM,
			Notional:   t.Terms.Notional,
			Premium:    t.Terms.Premium,
		},
		State: models.OptionState{
			Status:            models.OptionStatus(t.State.Status),
			Buyer:             t.State.Buyer,
			CreatedAt:         t.State.CreatedAt.Uint64(),
			RequestID:         common.Hash(t.State.RequestId),
			LocationKey:       common.Hash(t.State.LocationKey),
			ActualRainfall:    t.State.ActualRainfall,
			FinalPayout:       t.State.FinalPayout,
			OwnerAtSettlement: t.State.OwnerAtSettlement,
		},
	}, nil
}

func (c *EthClient) PendingPayout(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	return c.callBig(ctx, c.option, "pendingPayouts", tokenID)
}

func (c *EthClient) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.callBig(ctx, c.option, "balanceOf", owner)
}

func (c *EthClient) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := c.call(ctx, c.option, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (c *EthClient) VaultMetrics(ctx context.Context) (*models.VaultMetrics, error) {
	out, err := c.call(ctx, c.vault, "getMetrics")
	if err != nil {
		return nil, err
	}
	if len(out) != 7 {
		return nil, errors.Errorf("vault.getMetrics returned %d values, want 7", len(out))
	}

	vals := make([]*big.Int, len(out))
	for i := range out {
		vals[i] = abi.ConvertType(out[i], new(big.Int)).(*big.Int)
	}
	return &models.VaultMetrics{
		TVL:            vals[0],
		Locked:         vals[1],
		Available:      vals[2],
		UtilizationBps: vals[3],
		PremiumsTotal:  vals[4],
		PayoutsTotal:   vals[5],
		NetPnL:         vals[6],
	}, nil
}

func (c *EthClient) VaultShares(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.callBig(ctx, c.vault, "balanceOf", account)
}

func (c *EthClient) MaxWithdraw(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.callBig(ctx, c.vault, "maxWithdraw", account)
}

func (c *EthClient) WETHBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.callBig(ctx, c.weth, "balanceOf", account)
}

func (c *EthClient) WETHAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return c.callBig(ctx, c.weth, "allowance", owner, spender)
}

// SimulateRequestPremiumQuote runs eth_call with the calldata RequestPremiumQuote will send
func (c *EthClient) SimulateRequestPremiumQuote(ctx context.Context, params models.QuoteParams) error {
	from, ok := c.Account()
	if !ok {
		return models.ErrNotConnected
	}

	data, err := c.option.abi.Pack("requestPremiumQuote", params)
	if err != nil {
		return &models.FlowError{Kind: models.KindSimulation, Message: "failed to encode quote parameters", Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit simulation")
	}
	timer := c.metrics.ChainTimer("option.simulateRequestPremiumQuote")
	defer timer.ObserveDuration()

	to := c.addrs.WeatherOption
	_, err = c.eth.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Gas:  QuoteGasLimit,
		Data: data,
	}, nil)
	if err != nil {
		c.metrics.RecordChainError("option.simulateRequestPremiumQuote")
		return &models.FlowError{Kind: models.KindSimulation, Message: revertReason(err), Err: err}
	}
	return nil
}

// revertReason extracts the decoded Error(string) payload when the node returns one
func revertReason(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

func (c *EthClient) RequestPremiumQuote(ctx context.Context, params models.QuoteParams) (common.Hash, error) {
	return c.transact(ctx, c.option, "requestPremiumQuote", nil, QuoteGasLimit, params)
}

func (c *EthClient) CreateOptionWithQuote(ctx context.Context, requestID common.Hash, value *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.option, "createOptionWithQuote", value, 0, requestID)
}

func (c *EthClient) RequestSettlement(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.option, "requestSettlement", nil, 0, tokenID)
}

func (c *EthClient) Settle(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.option, "settle", nil, 0, tokenID)
}

func (c *EthClient) ClaimPayout(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.option, "claimPayout", nil, 0, tokenID)
}

func (c *EthClient) VaultDeposit(ctx context.Context, assets *big.Int, receiver common.Address) (common.Hash, error) {
	return c.transact(ctx, c.vault, "deposit", nil, 0, assets, receiver)
}

func (c *EthClient) VaultWithdraw(ctx context.Context, assets *big.Int, receiver, owner common.Address) (common.Hash, error) {
	return c.transact(ctx, c.vault, "withdraw", nil, 0, assets, receiver, owner)
}

func (c *EthClient) WrapETH(ctx context.Context, value *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.weth, "deposit", value, 0)
}

func (c *EthClient) ApproveWETH(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, c.weth, "approve", nil, 0, spender, amount)
}

// WaitReceipt polls for the receipt until it is available or ctx ends
func (c *EthClient) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrapf(err, "wait receipt %s", hash.Hex())
		}

		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.metrics.RecordChainError("eth.receipt")
			return nil, errors.Wrapf(err, "read receipt %s", hash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
