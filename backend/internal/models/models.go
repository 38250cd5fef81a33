package models

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order. Legacy rows mix "Buy" and "BUY", so
// every boundary goes through ParseSide.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// ParseSide normalises a side string case-insensitively.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side %q, must be 'Buy' or 'Sell'", raw)
	}
}

// UnmarshalJSON rejects anything outside the closed Buy/Sell set.
func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("side must be a string: %w", err)
	}
	parsed, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Status is the persisted one-letter order status code.
type Status string

const (
	StatusOpen      Status = "O"
	StatusCancelled Status = "C"
	// StatusFilled is only ever written by the match path.
	StatusFilled Status = "F"
)

// ParseStatus validates a persisted status code.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusFilled:
		return StatusFilled, nil
	default:
		return "", fmt.Errorf("invalid status %q, must be one of O, C, F", raw)
	}
}

const (
	DefaultOrderType = "Limit"
	DefaultValidity  = "Day"
)

// PriceScale is the number of decimal places stored for prices and credit
// lines. It matches the NUMERIC(20, 4) columns.
const PriceScale int32 = 4

// CheckPriceScale rejects prices the store would have to round.
func CheckPriceScale(price decimal.Decimal) error {
	if !price.Equal(price.Truncate(PriceScale)) {
		return fmt.Errorf("price %s has more than %d decimal places", price, PriceScale)
	}
	return nil
}

// Order represents a trading instruction against one account.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   int64           `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        string          `json:"type"`
	Price       decimal.Decimal `json:"price"`
	Volume      int64           `json:"volume"`
	Matched     int64           `json:"matched"`
	Balance     int64           `json:"balance"` // Unfilled remainder, Volume - Matched
	Status      Status          `json:"status"`
	Cancelled   bool            `json:"cancelled"`
	Validity    string          `json:"validity"`
	SubmittedAt time.Time       `json:"time"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsOpen reports whether the order still rests with the match engine.
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen
}

// Notional is the value of the unfilled remainder.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Balance))
}

// Validate checks the invariants every persisted order must satisfy.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("invalid side %q", o.Side)
	}
	if _, err := ParseStatus(string(o.Status)); err != nil {
		return err
	}
	if o.Volume <= 0 {
		return fmt.Errorf("volume must be positive")
	}
	if o.Price.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	if err := CheckPriceScale(o.Price); err != nil {
		return err
	}
	if o.Matched < 0 || o.Matched > o.Volume {
		return fmt.Errorf("matched must be between 0 and volume")
	}
	if o.Balance != o.Volume-o.Matched {
		return fmt.Errorf("balance %d must equal volume - matched (%d)", o.Balance, o.Volume-o.Matched)
	}
	if o.Cancelled != (o.Status == StatusCancelled) {
		return fmt.Errorf("cancelled flag must mirror status")
	}
	return nil
}

// Account is the ledger-relevant projection of a brokerage account.
type Account struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	PINHash       string          `json:"-"` // bcrypt hash, never serialised
	LineAvailable decimal.Decimal `json:"line_available"`
}

// Holdings maps a symbol onto the settled volume the account holds.
type Holdings map[string]int64

// Roles carried by actor tokens.
const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleSystem = "system"

	BrokerManager = "manager"
)

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Broker   string `json:"broker,omitempty"`
}

// SystemActor is used by internal schedulers.
func SystemActor() Actor {
	return Actor{Username: "eod-scheduler", Role: RoleSystem}
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanUpdateOrders reports whether the actor may rewrite arbitrary orders.
func (a Actor) CanUpdateOrders() bool {
	return a.Role == RoleAdmin || a.Broker == BrokerManager
}

// CanSweep reports whether the actor may run the end-of-day sweep.
func (a Actor) CanSweep() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// Owns reports whether the actor owns the account.
func (a Actor) Owns(account *Account) bool {
	return account != nil && account.UserID == a.UserID
}
