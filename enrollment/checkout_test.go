package enrollment_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/enrollment-engine/enrollment"
)

type stubGateway struct {
	secret   string
	err      error
	block    bool
	amount   int64
	currency string
}

func (g *stubGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error) {
	g.amount, g.currency = amountMinor, currency
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.secret, g.err
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		price string
		want  int64
	}{
		{"49.99", 4999},
		{"50", 5000},
		{"0.01", 1},
		{"10.125", 1013},
		{"0.005", 1},
		{"92233720368547758.07", math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			got, err := enrollment.ToMinorUnits(decimal.RequireFromString(tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"0", "-1", "0.001", "92233720368547758.08", "184467440737095516.17"} {
		_, err := enrollment.ToMinorUnits(decimal.RequireFromString(bad))
		assert.ErrorIs(t, err, enrollment.ErrInvalidPrice, bad)
	}
}

func TestCheckout_CreateIntent(t *testing.T) {
	gw := &stubGateway{secret: "pi_secret_123"}
	checkout := enrollment.NewCheckout(gw, "USD", time.Second)

	intent, err := checkout.CreateIntent(context.Background(), decimal.RequireFromString("49.99"))

	require.NoError(t, err)
	assert.Equal(t, "pi_secret_123", intent.ClientSecret)
	assert.Equal(t, int64(4999), intent.AmountMinor)
	assert.Equal(t, int64(4999), gw.amount)
	assert.Equal(t, "USD", gw.currency)
}

func TestCheckout_GatewayFailures(t *testing.T) {
	declined := errors.New("card network unavailable")

	tests := []struct {
		name  string
		gw    *stubGateway
		cause error
	}{
		{"error", &stubGateway{err: declined}, declined},
		{"timeout", &stubGateway{block: true}, context.DeadlineExceeded},
		{"empty secret", &stubGateway{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkout := enrollment.NewCheckout(tt.gw, "USD", 20*time.Millisecond)

			_, err := checkout.CreateIntent(context.Background(), decimal.NewFromInt(10))

			assert.ErrorIs(t, err, enrollment.ErrGateway)
			var gwErr *enrollment.GatewayError
			assert.ErrorAs(t, err, &gwErr)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestCheckout_InvalidPriceSkipsGateway(t *testing.T) {
	gw := &stubGateway{secret: "unused"}
	checkout := enrollment.NewCheckout(gw, "USD", 0)

	for _, price := range []string{"0", "184467440737095516.17"} {
		_, err := checkout.CreateIntent(context.Background(), decimal.RequireFromString(price))

		assert.ErrorIs(t, err, enrollment.ErrInvalidPrice, price)
		assert.Zero(t, gw.amount, price)
	}
}
