/*
checkout.go - Payment-intent creation

  Checkout converts a major-unit price to minor units and asks the gateway
  for a client secret. It never touches the selection ledger or the
  payment log; a failure or timeout leaves all state as it was.
*/
package enrollment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentGateway creates payment intents. Amount is in minor units.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (clientSecret string, err error)
}

// Intent is returned to the client to complete checkout out of band.
type Intent struct {
	ClientSecret string
	AmountMinor  int64
	Currency     string
}

const DefaultGatewayTimeout = 10 * time.Second

type Checkout struct {
	gateway  PaymentGateway
	currency string
	timeout  time.Duration
}

func NewCheckout(gateway PaymentGateway, currency string, timeout time.Duration) *Checkout {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	return &Checkout{gateway: gateway, currency: currency, timeout: timeout}
}

// CreateIntent fails closed: every gateway failure, including a timeout,
// is returned as *GatewayError.
func (c *Checkout) CreateIntent(ctx context.Context, price decimal.Decimal) (Intent, error) {
	minor, err := ToMinorUnits(price)
	if err != nil {
		return Intent{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	secret, err := c.gateway.CreateIntent(ctx, minor, c.currency)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return Intent{}, &GatewayError{Cause: err}
	}
	if secret == "" {
		return Intent{}, &GatewayError{Cause: fmt.Errorf("empty client secret")}
	}
	return Intent{ClientSecret: secret, AmountMinor: minor, Currency: c.currency}, nil
}

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// ToMinorUnits converts a positive major-unit price (e.g. 49.99) to minor
// units (4999), rounding half away from zero at the cent.
func ToMinorUnits(price decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidPrice, price)
	}
	minor := price.Round(2).Mul(hundred)
	if !minor.IsInteger() || !minor.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	// IntPart keeps only the low 64 bits.
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidPrice, price)
	}
	return minor.IntPart(), nil
}
