package models

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// SecondsPerDay converts a coverage length in days into contract seconds
	SecondsPerDay = 86400

	// WeiDecimals is the fixed-point precision of native currency amounts
	WeiDecimals = 18
)

// OptionKind is the option direction as encoded on-chain
type OptionKind uint8

const (
	OptionCall OptionKind = 0
	OptionPut  OptionKind = 1
)

func (k OptionKind) String() string {
	switch k {
	case OptionCall:
		return "Call"
	case OptionPut:
		return "Put"
	default:
		return "Unknown"
	}
}

// ParseOptionKind accepts "call" or "put" in any case
func ParseOptionKind(s string) (OptionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call":
		return OptionCall, nil
	case "put":
		return OptionPut, nil
	}
	return 0, &ValidationError{Field: "kind", Value: s, Message: "option kind must be call or put"}
}

// OptionStatus is the lifecycle status stored by the option contract
type OptionStatus uint8

const (
	StatusActive   OptionStatus = 0
	StatusExpired  OptionStatus = 1
	StatusSettling OptionStatus = 2
	StatusSettled  OptionStatus = 3
)

func (s OptionStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusExpired:
		return "Expired"
	case StatusSettling:
		return "Settling"
	case StatusSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// Location is a named coordinate pair, kept as the decimal strings sent to the contract
type Location struct {
	Name      string `json:"name" yaml:"name"`
	Latitude  string `json:"latitude" yaml:"latitude"`
	Longitude string `json:"longitude" yaml:"longitude"`
}

// PresetLocations lists the selectable locations in display order
var PresetLocations = []Location{
	{Name: "Medellín", Latitude: "6.25", Longitude: "-75.56"},
	{Name: "London", Latitude: "51.51", Longitude: "-0.13"},
	{Name: "Miami", Latitude: "25.76", Longitude: "-80.19"},
}

// FormParameters are the user inputs of the purchase flow
type FormParameters struct {
	Kind            OptionKind `json:"kind"`
	LocationIndex   int        `json:"location_index"`
	CustomLocation  bool       `json:"custom_location"`
	CustomLatitude  string     `json:"custom_latitude"`
	CustomLongitude string     `json:"custom_longitude"`
	Days            int64      `json:"days"`
	StrikeMM        int64      `json:"strike_mm"`
	SpreadMM        int64      `json:"spread_mm"`
	Notional        string     `json:"notional"`
}

// DefaultFormParameters returns the initial form and the form restored after a successful purchase
func DefaultFormParameters() FormParameters {
	return FormParameters{
		Kind:          OptionCall,
		LocationIndex: 0,
		Days:          3,
		StrikeMM:      100,
		SpreadMM:      50,
		Notional:      "0.01",
	}
}

// Coordinates resolves the latitude and longitude that will be submitted
func (f FormParameters) Coordinates() (string, string) {
	if f.CustomLocation {
		return strings.TrimSpace(f.CustomLatitude), strings.TrimSpace(f.CustomLongitude)
	}
	if f.LocationIndex < 0 || f.LocationIndex >= len(PresetLocations) {
		return "", ""
	}
	loc := PresetLocations[f.LocationIndex]
	return loc.Latitude, loc.Longitude
}

// ValidateLocation checks the location part of the form. Validate runs it
// first, before the other field checks.
func (f FormParameters) ValidateLocation() error {
	if !f.CustomLocation {
		if f.LocationIndex < 0 || f.LocationIndex >= len(PresetLocations) {
			return &ValidationError{
				Field:   "location_index",
				Value:   strconv.Itoa(f.LocationIndex),
				Message: "unknown preset location",
			}
		}
		return nil
	}

	lat, lon := f.Coordinates()
	if lat == "" || lon == "" {
		return &ValidationError{
			Field:   "custom_location",
			Value:   lat + "," + lon,
			Message: "please enter both latitude and longitude",
		}
	}

	if !coordinateInRange(lat, 90) || !coordinateInRange(lon, 180) {
		return &ValidationError{
			Field:   "custom_location",
			Value:   lat + "," + lon,
			Message: "invalid coordinates: latitude must be within -90..90 and longitude within -180..180",
		}
	}

	return nil
}

func coordinateInRange(s string, bound float64) bool {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= -bound && v <= bound
}

// Validate checks every form field
func (f FormParameters) Validate() error {
	if err := f.ValidateLocation(); err != nil {
		return err
	}
	if f.Kind != OptionCall && f.Kind != OptionPut {
		return &ValidationError{Field: "kind", Value: f.Kind.String(), Message: "option kind must be call or put"}
	}
	if f.Days < 1 {
		return &ValidationError{Field: "days", Value: strconv.FormatInt(f.Days, 10), Message: "coverage must last at least one day"}
	}
	if f.StrikeMM < 0 {
		return &ValidationError{Field: "strike_mm", Value: strconv.FormatInt(f.StrikeMM, 10), Message: "strike must not be negative"}
	}
	if f.SpreadMM < 0 {
		return &ValidationError{Field: "spread_mm", Value: strconv.FormatInt(f.SpreadMM, 10), Message: "spread must not be negative"}
	}
	if _, err := f.NotionalWei(); err != nil {
		return err
	}
	return nil
}

// NotionalWei converts the decimal notional into an 18-decimal fixed-point integer
func (f FormParameters) NotionalWei() (*big.Int, error) {
	return ParseAmount("notional", f.Notional)
}

// ParseAmount parses a decimal ether amount into wei. Negative values and
// more than 18 fractional digits are rejected.
func ParseAmount(field, s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, &ValidationError{Field: field, Value: s, Message: field + " is not a decimal number"}
	}
	if d.IsNegative() {
		return nil, &ValidationError{Field: field, Value: s, Message: field + " must not be negative"}
	}

	wei := d.Shift(WeiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, &ValidationError{Field: field, Value: s, Message: field + " has more than 18 decimal places"}
	}
	return wei.BigInt(), nil
}

// QuoteParams is the parameter tuple of requestPremiumQuote
type QuoteParams struct {
	OptionType uint8
	Latitude   string
	Longitude  string
	StartDate  *big.Int
	ExpiryDate *big.Int
	StrikeMM   *big.Int
	SpreadMM   *big.Int
	Notional   *big.Int
}

// QuoteParams derives the contract parameters from the form and the latest block time.
// Coverage starts buffer after the block time and lasts Days whole days.
func (f FormParameters) QuoteParams(blockTime uint64, buffer time.Duration) (QuoteParams, error) {
	notional, err := f.NotionalWei()
	if err != nil {
		return QuoteParams{}, err
	}

	lat, lon := f.Coordinates()
	start := blockTime + uint64(buffer/time.Second)
	expiry := start + uint64(f.Days)*SecondsPerDay

	return QuoteParams{
		OptionType: uint8(f.Kind),
		Latitude:   lat,
		Longitude:  lon,
		StartDate:  new(big.Int).SetUint64(start),
		ExpiryDate: new(big.Int).SetUint64(expiry),
		StrikeMM:   big.NewInt(f.StrikeMM),
		SpreadMM:   big.NewInt(f.SpreadMM),
		Notional:   notional,
	}, nil
}

// OptionTerms are the immutable economic terms of a minted option
type OptionTerms struct {
	Kind       OptionKind `json:"kind"`
	Latitude   string     `json:"latitude"`
	Longitude  string     `json:"longitude"`
	StartDate  uint64     `json:"start_date"`
	ExpiryDate uint64     `json:"expiry_date"`
	StrikeMM   *big.Int   `json:"strike_mm"`
	SpreadMM   *big.Int   `json:"spread_mm"`
	Notional   *big.Int   `json:"notional"`
	Premium    *big.Int   `json:"premium"`
}

// OptionState is the mutable lifecycle state of a minted option
type OptionState struct {
	Status            OptionStatus   `json:"status"`
	Buyer             common.Address `json:"buyer"`
	CreatedAt         uint64         `json:"created_at"`
	RequestID         common.Hash    `json:"request_id"`
	LocationKey       common.Hash    `json:"location_key"`
	ActualRainfall    *big.Int       `json:"actual_rainfall"`
	FinalPayout       *big.Int       `json:"final_payout"`
	OwnerAtSettlement common.Address `json:"owner_at_settlement"`
}

// Position is a read-only view of an owned option token
type Position struct {
	TokenID       *big.Int    `json:"token_id"`
	Terms         OptionTerms `json:"terms"`
	State         OptionState `json:"state"`
	PendingPayout *big.Int    `json:"pending_payout"`
	ReadAt        time.Time   `json:"read_at"`
}

// IsExpired reports whether now is strictly past the expiry timestamp
func (p *Position) IsExpired(now time.Time) bool {
	return now.Unix() >= 0 && uint64(now.Unix()) > p.Terms.ExpiryDate
}

// MaxPayout is notional times spread
func (p *Position) MaxPayout() *big.Int {
	if p.Terms.Notional == nil || p.Terms.SpreadMM == nil {
		return nil
	}
	return new(big.Int).Mul(p.Terms.Notional, p.Terms.SpreadMM)
}

// CanRequestSettlement: expired and still Active
func (p *Position) CanRequestSettlement(now time.Time) bool {
	return p.IsExpired(now) && p.State.Status == StatusActive
}

// CanFinalizeSettlement: expired and Active or Settling
func (p *Position) CanFinalizeSettlement(now time.Time) bool {
	if !p.IsExpired(now) {
		return false
	}
	return p.State.Status == StatusActive || p.State.Status == StatusSettling
}

// CanClaim: Settled with a non-zero pending payout
func (p *Position) CanClaim() bool {
	return p.State.Status == StatusSettled && p.PendingPayout != nil && p.PendingPayout.Sign() > 0
}

// VaultMetrics is the liquidity pool summary returned by getMetrics
type VaultMetrics struct {
	TVL            *big.Int `json:"tvl"`
	Locked         *big.Int `json:"locked"`
	Available      *big.Int `json:"available"`
	UtilizationBps *big.Int `json:"utilization_bps"`
	PremiumsTotal  *big.Int `json:"premiums_total"`
	PayoutsTotal   *big.Int `json:"payouts_total"`
	NetPnL         *big.Int `json:"net_pnl"`
}

// LiquidityPosition is the configured account's stake in the pool
type LiquidityPosition struct {
	Account     common.Address `json:"account"`
	Shares      *big.Int       `json:"shares"`
	WETHBalance *big.Int       `json:"weth_balance"`
	Allowance   *big.Int       `json:"allowance"`
	MaxWithdraw *big.Int       `json:"max_withdraw"`
}

// NeedsApproval reports whether depositing amount requires a prior approve
func (l *LiquidityPosition) NeedsApproval(amount *big.Int) bool {
	if amount == nil || amount.Sign() == 0 {
		return false
	}
	return l.Allowance == nil || l.Allowance.Cmp(amount) < 0
}
