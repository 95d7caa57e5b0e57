/*
Package gateway implements enrollment.PaymentGateway on top of Midtrans Snap.

FLOW:
  CreateIntent asks Snap for a transaction token. The token is what the
  browser needs to open the payment page, so it is returned as the client
  secret. The order id is a fresh UUID; the gateway echoes it back as the
  transaction id that POST /payments later reconciles.

TIMEOUT:
  The Snap client has no context parameter. The call runs in its own
  goroutine and CreateIntent returns ctx.Err() when the context expires
  first. A late response is discarded.
*/
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
)

// snapClient is the subset of snap.Client used here.
type snapClient interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type Midtrans struct {
	client  snapClient
	orderID func() string
}

// NewMidtrans builds a Snap-backed gateway for serverKey.
func NewMidtrans(serverKey string, production bool) *Midtrans {
	var c snap.Client
	if production {
		c.New(serverKey, midtrans.Production)
	} else {
		c.New(serverKey, midtrans.Sandbox)
	}
	return newMidtrans(&c)
}

func newMidtrans(c snapClient) *Midtrans {
	return &Midtrans{client: c, orderID: func() string { return "enr-" + uuid.NewString() }}
}

type result struct {
	token string
	err   error
}

// CreateIntent implements enrollment.PaymentGateway.
func (m *Midtrans) CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error) {
	if amountMinor <= 0 {
		return "", fmt.Errorf("amount must be positive, got %d", amountMinor)
	}

	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  m.orderID(),
			GrossAmt: amountMinor,
		},
		CustomField1: strings.ToUpper(currency),
	}

	done := make(chan result, 1)
	go func() {
		resp, merr := m.client.CreateTransaction(req)
		if merr != nil {
			done <- result{err: fmt.Errorf("snap create transaction: %w", merr)}
			return
		}
		if resp == nil {
			done <- result{err: fmt.Errorf("snap create transaction: empty response")}
			return
		}
		done <- result{token: resp.Token}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.token, r.err
	}
}
