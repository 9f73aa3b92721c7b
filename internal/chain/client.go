// Package chain is the contract-call surface used by the services: reads,
// dry-run simulation, transaction submission and receipt observation.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"weather-options/internal/models"
)

// QuoteGasLimit is the fixed gas limit sent with requestPremiumQuote
const QuoteGasLimit uint64 = 2_000_000

// Addresses are the deployed protocol contracts
type Addresses struct {
	WeatherOption   common.Address `json:"weather_option"`
	Vault           common.Address `json:"vault"`
	WETH            common.Address `json:"weth"`
	PremiumConsumer common.Address `json:"premium_consumer"`
}

// Reader covers the side-effect free calls. Every call returns the latest on-chain value.
type Reader interface {
	LatestBlockTime(ctx context.Context) (uint64, error)

	AvailableLiquidity(ctx context.Context) (*big.Int, error)
	MinNotional(ctx context.Context) (*big.Int, error)
	MinPremium(ctx context.Context) (*big.Int, error)
	ProtocolFeeBps(ctx context.Context) (*big.Int, error)

	IsRequestFulfilled(ctx context.Context, requestID common.Hash) (bool, error)
	PremiumByRequest(ctx context.Context, requestID common.Hash) (*big.Int, error)

	// GetOption returns terms and state; PendingPayout and ReadAt are left unset.
	GetOption(ctx context.Context, tokenID *big.Int) (*models.Position, error)
	PendingPayout(ctx context.Context, tokenID *big.Int) (*big.Int, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)

	VaultMetrics(ctx context.Context) (*models.VaultMetrics, error)
	VaultShares(ctx context.Context, account common.Address) (*big.Int, error)
	MaxWithdraw(ctx context.Context, account common.Address) (*big.Int, error)
	WETHBalance(ctx context.Context, account common.Address) (*big.Int, error)
	WETHAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// Writer covers state-changing calls. Each returns the transaction hash once
// broadcast; the outcome is observed with WaitReceipt.
type Writer interface {
	// SimulateRequestPremiumQuote dry-runs the exact call RequestPremiumQuote will send
	SimulateRequestPremiumQuote(ctx context.Context, params models.QuoteParams) error
	RequestPremiumQuote(ctx context.Context, params models.QuoteParams) (common.Hash, error)
	CreateOptionWithQuote(ctx context.Context, requestID common.Hash, value *big.Int) (common.Hash, error)

	RequestSettlement(ctx context.Context, tokenID *big.Int) (common.Hash, error)
	Settle(ctx context.Context, tokenID *big.Int) (common.Hash, error)
	ClaimPayout(ctx context.Context, tokenID *big.Int) (common.Hash, error)

	VaultDeposit(ctx context.Context, assets *big.Int, receiver common.Address) (common.Hash, error)
	VaultWithdraw(ctx context.Context, assets *big.Int, receiver, owner common.Address) (common.Hash, error)
	WrapETH(ctx context.Context, value *big.Int) (common.Hash, error)
	ApproveWETH(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error)

	// WaitReceipt blocks until the transaction is mined or ctx ends
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Wallet reports the signing account. The core only observes it.
type Wallet interface {
	Account() (common.Address, bool)
}

// Client is everything the services consume
type Client interface {
	Reader
	Writer
	Wallet
	Addresses() Addresses
}
