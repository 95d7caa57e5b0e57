package gateway

import (
	"context"
	"testing"
	"time"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnap struct {
	resp  *snap.Response
	err   *midtrans.Error
	delay time.Duration
	got   *snap.Request
}

func (f *fakeSnap) CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error) {
	f.got = req
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.resp, f.err
}

func TestMidtrans_CreateIntent_ReturnsToken(t *testing.T) {
	fake := &fakeSnap{resp: &snap.Response{Token: "snap-token-1"}}
	gw := newMidtrans(fake)
	gw.orderID = func() string { return "order-1" }

	token, err := gw.CreateIntent(context.Background(), 4999, "usd")

	require.NoError(t, err)
	assert.Equal(t, "snap-token-1", token)
	require.NotNil(t, fake.got)
	assert.Equal(t, "order-1", fake.got.TransactionDetails.OrderID)
	assert.Equal(t, int64(4999), fake.got.TransactionDetails.GrossAmt)
	assert.Equal(t, "USD", fake.got.CustomField1)
}

func TestMidtrans_CreateIntent_Errors(t *testing.T) {
	t.Run("gateway error", func(t *testing.T) {
		gw := newMidtrans(&fakeSnap{err: &midtrans.Error{Message: "unauthorized", StatusCode: 401}})

		_, err := gw.CreateIntent(context.Background(), 100, "USD")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unauthorized")
	})

	t.Run("empty response", func(t *testing.T) {
		gw := newMidtrans(&fakeSnap{})

		_, err := gw.CreateIntent(context.Background(), 100, "USD")

		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		gw := newMidtrans(&fakeSnap{resp: &snap.Response{Token: "late"}, delay: 200 * time.Millisecond})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := gw.CreateIntent(ctx, 100, "USD")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		fake := &fakeSnap{}
		gw := newMidtrans(fake)

		_, err := gw.CreateIntent(context.Background(), 0, "USD")

		assert.Error(t, err)
		assert.Nil(t, fake.got)
	})
}
