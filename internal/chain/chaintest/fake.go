// Package chaintest provides an in-memory chain.Client for service and handler tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"weather-options/internal/chain"
	"weather-options/internal/models"
)

var (
	// QuoteEventTopic is topic[0] of the request log the fake emits
	QuoteEventTopic = common.HexToHash("0x5eed")

	// DefaultAddresses mirror the Sepolia deployment
	DefaultAddresses = chain.Addresses{
		WeatherOption:   common.HexToAddress("0x3C97d44c502488AcF0Dfda5c691be3A264D84CE0"),
		Vault:           common.HexToAddress("0x8E333D07F74FF9A45b0E3E0805a10d58fb61E72C"),
		WETH:            common.HexToAddress("0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"),
		PremiumConsumer: common.HexToAddress("0xEB36260fc0647D9ca4b67F40E1310697074897d4"),
	}

	// DefaultAccount is the connected signer unless SetAccount changes it
	DefaultAccount = common.HexToAddress("0x00000000000000000000000000000000000000A1")

	errNoToken = errors.New("execution reverted: ERC721: invalid token ID")
)

// Call records one write
type Call struct {
	Method string
	Hash   common.Hash
	Value  *big.Int
	Args   []interface{}
}

// Fake is a goroutine-safe in-memory chain
type Fake struct {
	mu sync.Mutex

	addrs     chain.Addresses
	account   common.Address
	connected bool

	blockTime   uint64
	liquidity   *big.Int
	minNotional *big.Int
	minPremium  *big.Int
	feeBps      *big.Int

	fulfilled map[common.Hash]bool
	premiums  map[common.Hash]*big.Int

	positions map[string]*models.Position
	pending   map[string]*big.Int
	owners    map[string]common.Address

	metrics     *models.VaultMetrics
	shares      *big.Int
	maxWithdraw *big.Int
	weth        *big.Int
	allowance   *big.Int

	simulateErr error
	submitErr   map[string]error
	readErr     map[string]error
	reverted    map[string]bool
	quoteLogs   func(requestID common.Hash) []*types.Log
	gate        chan struct{}
	onConfirm   map[string]func(f *Fake, c Call)

	receipts map[common.Hash]*types.Receipt
	calls    []Call
	reads    map[string]int
	nonce    int64
}

// NewFake returns a connected fake with ample liquidity and no fee
func NewFake() *Fake {
	return &Fake{
		addrs:       DefaultAddresses,
		account:     DefaultAccount,
		connected:   true,
		blockTime:   1_700_000_000,
		liquidity:   new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
		minNotional: big.NewInt(0),
		minPremium:  big.NewInt(0),
		feeBps:      big.NewInt(0),
		fulfilled:   map[common.Hash]bool{},
		premiums:    map[common.Hash]*big.Int{},
		positions:   map[string]*models.Position{},
		pending:     map[string]*big.Int{},
		owners:      map[string]common.Address{},
		metrics:     &models.VaultMetrics{},
		shares:      big.NewInt(0),
		maxWithdraw: big.NewInt(0),
		weth:        big.NewInt(0),
		allowance:   big.NewInt(0),
		submitErr:   map[string]error{},
		readErr:     map[string]error{},
		reverted:    map[string]bool{},
		onConfirm:   map[string]func(*Fake, Call){},
		receipts:    map[common.Hash]*types.Receipt{},
		reads:       map[string]int{},
	}
}

// --- configuration -------------------------------------------------------

func (f *Fake) SetAccount(addr common.Address, connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account, f.connected = addr, connected
}

func (f *Fake) SetBlockTime(ts uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockTime = ts
}

// SetProtocolParams sets available liquidity, min notional, min premium and fee bps
func (f *Fake) SetProtocolParams(liquidity, minNotional, minPremium, feeBps *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liquidity, f.minNotional, f.minPremium, f.feeBps = liquidity, minNotional, minPremium, feeBps
}

// Fulfill marks the request fulfilled with premium
func (f *Fake) Fulfill(requestID common.Hash, premium *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfilled[requestID] = true
	f.premiums[requestID] = premium
}

// SetPosition stores p as owned by owner with the given pending payout
func (f *Fake) SetPosition(p *models.Position, owner common.Address, pending *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := p.TokenID.String()
	cp := *p
	f.positions[key] = &cp
	f.owners[key] = owner
	f.pending[key] = pending
}

// SetStatus updates the status of a stored position
func (f *Fake) SetStatus(tokenID *big.Int, status models.OptionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.positions[tokenID.String()]; ok {
		p.State.Status = status
	}
}

// SetPending updates the pending payout of a stored position
func (f *Fake) SetPending(tokenID *big.Int, pending *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[tokenID.String()] = pending
}

func (f *Fake) SetVault(m *models.VaultMetrics, shares, maxWithdraw, weth, allowance *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics, f.shares, f.maxWithdraw, f.weth, f.allowance = m, shares, maxWithdraw, weth, allowance
}

func (f *Fake) SetSimulateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErr = err
}

// SetSubmitError makes the named write fail before broadcast
func (f *Fake) SetSubmitError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr[method] = err
}

// SetReadError makes the named read fail
func (f *Fake) SetReadError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr[method] = err
}

// SetReverted makes receipts of the named write report failure
func (f *Fake) SetReverted(method string, reverted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverted[method] = reverted
}

// SetQuoteLogs overrides the logs attached to requestPremiumQuote receipts
func (f *Fake) SetQuoteLogs(fn func(requestID common.Hash) []*types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteLogs = fn
}

// OnConfirm registers a hook run when a receipt for method is delivered
func (f *Fake) OnConfirm(method string, fn func(f *Fake, c Call)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConfirm[method] = fn
}

// HoldReceipts makes WaitReceipt block until ReleaseReceipts
func (f *Fake) HoldReceipts() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *Fake) ReleaseReceipts() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// --- inspection ----------------------------------------------------------

// Calls returns the recorded writes for method, or all writes when method is empty
func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reads returns how often the named read was issued
func (f *Fake) Reads(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[method]
}

// RequestIDFor is the request id the fake assigns to the n-th write (1-based)
func RequestIDFor(n int64) common.Hash {
	return common.BigToHash(big.NewInt(0x1000 + n))
}

// --- chain.Client --------------------------------------------------------

func (f *Fake) Account() (common.Address, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, f.connected
}

func (f *Fake) Addresses() chain.Addresses {
	return f.addrs
}

func (f *Fake) read(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[method]++
	return f.readErr[method]
}

func (f *Fake) LatestBlockTime(ctx context.Context) (uint64, error) {
	if err := f.read("latestBlock"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockTime, nil
}

func (f *Fake) AvailableLiquidity(ctx context.Context) (*big.Int, error) {
	if err := f.read("availableLiquidity"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.liquidity), nil
}

func (f *Fake) MinNotional(ctx context.Context) (*big.Int, error) {
	if err := f.read("minNotional"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.minNotional), nil
}

func (f *Fake) MinPremium(ctx context.Context) (*big.Int, error) {
	if err := f.read("minPremium"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.minPremium), nil
}

func (f *Fake) ProtocolFeeBps(ctx context.Context) (*big.Int, error) {
	if err := f.read("protocolFeeBps"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.feeBps), nil
}

func (f *Fake) IsRequestFulfilled(ctx context.Context, requestID common.Hash) (bool, error) {
	if err := f.read("isRequestFulfilled"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fulfilled[requestID], nil
}

func (f *Fake) PremiumByRequest(ctx context.Context, requestID common.Hash) (*big.Int, error) {
	if err := f.read("premiumByRequest"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.premiums[requestID]; ok {
		return copyBig(p), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) GetOption(ctx context.Context, tokenID *big.Int) (*models.Position, error) {
	if err := f.read("getOption"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[tokenID.String()]
	if !ok {
		return nil, errNoToken
	}
	cp := *p
	cp.PendingPayout = nil
	return &cp, nil
}

func (f *Fake) PendingPayout(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	if err := f.read("pendingPayouts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.pending[tokenID.String()]; ok && v != nil {
		return copyBig(v), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := f.read("balanceOf"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(0)
	for _, o := range f.owners {
		if o == owner {
			n++
		}
	}
	return big.NewInt(n), nil
}

func (f *Fake) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	if err := f.read("ownerOf"); err != nil {
		return common.Address{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.owners[tokenID.String()]
	if !ok {
		return common.Address{}, errNoToken
	}
	return o, nil
}

func (f *Fake) VaultMetrics(ctx context.Context) (*models.VaultMetrics, error) {
	if err := f.read("getMetrics"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := *f.metrics
	return &m, nil
}

func (f *Fake) VaultShares(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := f.read("vaultBalanceOf"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.shares), nil
}

func (f *Fake) MaxWithdraw(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := f.read("maxWithdraw"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.maxWithdraw), nil
}

func (f *Fake) WETHBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := f.read("wethBalanceOf"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.weth), nil
}

func (f *Fake) WETHAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if err := f.read("allowance"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyBig(f.allowance), nil
}

func (f *Fake) SimulateRequestPremiumQuote(ctx context.Context, params models.QuoteParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads["simulateRequestPremiumQuote"]++
	if !f.connected {
		return models.ErrNotConnected
	}
	if f.simulateErr != nil {
		return &models.FlowError{Kind: models.KindSimulation, Message: f.simulateErr.Error(), Err: f.simulateErr}
	}
	return nil
}

func (f *Fake) submit(method string, value *big.Int, args ...interface{}) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return common.Hash{}, models.ErrNotConnected
	}
	if err := f.submitErr[method]; err != nil {
		return common.Hash{}, err
	}

	f.nonce++
	hash := common.BigToHash(big.NewInt(f.nonce))
	c := Call{Method: method, Hash: hash, Value: copyBig(value), Args: args}
	f.calls = append(f.calls, c)

	status := types.ReceiptStatusSuccessful
	if f.reverted[method] {
		status = types.ReceiptStatusFailed
	}
	receipt := &types.Receipt{Status: status, TxHash: hash}

	if method == "requestPremiumQuote" && status == types.ReceiptStatusSuccessful {
		id := RequestIDFor(f.nonce)
		if f.quoteLogs != nil {
			receipt.Logs = f.quoteLogs(id)
		} else {
			receipt.Logs = []*types.Log{{
				Address: f.addrs.PremiumConsumer,
				Topics:  []common.Hash{QuoteEventTopic, id},
			}}
		}
	}
	f.receipts[hash] = receipt

	return hash, nil
}

func (f *Fake) RequestPremiumQuote(ctx context.Context, params models.QuoteParams) (common.Hash, error) {
	return f.submit("requestPremiumQuote", nil, params)
}

func (f *Fake) CreateOptionWithQuote(ctx context.Context, requestID common.Hash, value *big.Int) (common.Hash, error) {
	return f.submit("createOptionWithQuote", value, requestID)
}

func (f *Fake) RequestSettlement(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return f.submit("requestSettlement", nil, tokenID)
}

func (f *Fake) Settle(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return f.submit("settle", nil, tokenID)
}

func (f *Fake) ClaimPayout(ctx context.Context, tokenID *big.Int) (common.Hash, error) {
	return f.submit("claimPayout", nil, tokenID)
}

func (f *Fake) VaultDeposit(ctx context.Context, assets *big.Int, receiver common.Address) (common.Hash, error) {
	return f.submit("deposit", nil, assets, receiver)
}

func (f *Fake) VaultWithdraw(ctx context.Context, assets *big.Int, receiver, owner common.Address) (common.Hash, error) {
	return f.submit("withdraw", nil, assets, receiver, owner)
}

func (f *Fake) WrapETH(ctx context.Context, value *big.Int) (common.Hash, error) {
	return f.submit("wrap", value)
}

func (f *Fake) ApproveWETH(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error) {
	return f.submit("approve", nil, spender, amount)
}

func (f *Fake) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	receipt, ok := f.receipts[hash]
	var hook func(*Fake, Call)
	var call Call
	if ok && receipt.Status == types.ReceiptStatusSuccessful {
		for _, c := range f.calls {
			if c.Hash == hash {
				call = c
				hook = f.onConfirm[c.Method]
				break
			}
		}
	}
	f.mu.Unlock()

	if !ok {
		return nil, errors.New("unknown transaction " + hash.Hex())
	}
	if hook != nil {
		hook(f, call)
	}
	return receipt, nil
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

var _ chain.Client = (*Fake)(nil)
