package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/models"
)

type fakeAccounts struct {
	writes map[int64]decimal.Decimal
	err    error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{writes: make(map[int64]decimal.Decimal)}
}

func (f *fakeAccounts) UpdateLineAvailable(_ context.Context, accountID int64, lineAvailable decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	f.writes[accountID] = lineAvailable
	return nil
}

func account(id int64, line int64) *models.Account {
	return &models.Account{ID: id, UserID: id * 10, LineAvailable: decimal.NewFromInt(line)}
}

func order(side models.Side, price, volume, matched int64) *models.Order {
	return &models.Order{
		AccountID: 1,
		Symbol:    "PTT",
		Side:      side,
		Price:     decimal.NewFromInt(price),
		Volume:    volume,
		Matched:   matched,
		Balance:   volume - matched,
		Status:    models.StatusOpen,
	}
}

func requireLine(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.NewFromInt(want).Equal(got), "expected %d, got %s", want, got)
}

func TestReserveBuyConsumesNotional(t *testing.T) {
	ctx := context.Background()
	accts := newFakeAccounts()
	engine := New(accts)
	acct := account(1, 1000)

	require.NoError(t, engine.ReserveForCreate(ctx, acct, order(models.SideBuy, 10, 50, 0), nil))
	requireLine(t, 500, acct.LineAvailable)
	requireLine(t, 500, accts.writes[1])

	err := engine.ReserveForCreate(ctx, acct, order(models.SideBuy, 10, 60, 0), nil)
	require.True(t, errs.Is(err, errs.CodeInsufficientFunds), "got %v", err)
	requireLine(t, 500, acct.LineAvailable)
}

func TestReserveBuyExactAmountSucceeds(t *testing.T) {
	acct := account(1, 500)
	require.NoError(t, New(newFakeAccounts()).ReserveForCreate(context.Background(), acct, order(models.SideBuy, 10, 50, 0), nil))
	require.True(t, acct.LineAvailable.IsZero())
}

func TestReserveSellGating(t *testing.T) {
	ctx := context.Background()
	accts := newFakeAccounts()
	engine := New(accts)
	acct := account(1, 1000)

	err := engine.ReserveForCreate(ctx, acct, order(models.SideSell, 10, 5, 0), models.Holdings{})
	require.True(t, errs.Is(err, errs.CodeNoHoldingsToSell), "got %v", err)

	for held := int64(0); held < 5; held++ {
		err := engine.ReserveForCreate(ctx, acct, order(models.SideSell, 10, 5, 0), models.Holdings{"PTT": held, "AOT": 100})
		require.True(t, errs.Is(err, errs.CodeInsufficientHoldings), "held %d: got %v", held, err)
	}

	require.NoError(t, engine.ReserveForCreate(ctx, acct, order(models.SideSell, 10, 5, 0), models.Holdings{"PTT": 5}))
	require.Empty(t, accts.writes, "sells must not touch the credit line")
	requireLine(t, 1000, acct.LineAvailable)
}

func TestReleaseOnCancelReturnsUnfilledNotional(t *testing.T) {
	ctx := context.Background()
	engine := New(newFakeAccounts())
	acct := account(1, 500)

	released, err := engine.ReleaseOnCancel(ctx, acct, order(models.SideBuy, 10, 50, 0))
	require.NoError(t, err)
	requireLine(t, 500, released)
	requireLine(t, 1000, acct.LineAvailable)

	partial := account(1, 0)
	released, err = engine.ReleaseOnCancel(ctx, partial, order(models.SideBuy, 10, 50, 20))
	require.NoError(t, err)
	requireLine(t, 300, released)
	requireLine(t, 300, partial.LineAvailable)
}

func TestReleaseOnCancelIgnoresSellsAndClosedOrders(t *testing.T) {
	ctx := context.Background()
	accts := newFakeAccounts()
	engine := New(accts)
	acct := account(1, 100)

	released, err := engine.ReleaseOnCancel(ctx, acct, order(models.SideSell, 10, 50, 0))
	require.NoError(t, err)
	require.True(t, released.IsZero())

	closed := order(models.SideBuy, 10, 50, 0)
	closed.Status = models.StatusCancelled
	closed.Cancelled = true
	released, err = engine.ReleaseOnCancel(ctx, acct, closed)
	require.NoError(t, err)
	require.True(t, released.IsZero())
	require.Empty(t, accts.writes)
}

func TestReconcileOnUpdateSymmetricRule(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name     string
		old      *models.Order
		next     *models.Order
		start    int64
		expected int64
	}{
		{"buy to buy", order(models.SideBuy, 10, 50, 0), order(models.SideBuy, 12, 50, 0), 500, 400},
		{"buy to sell releases", order(models.SideBuy, 10, 50, 0), order(models.SideSell, 10, 50, 0), 500, 1000},
		{"sell to buy applies", order(models.SideSell, 10, 50, 0), order(models.SideBuy, 10, 20, 0), 500, 300},
		{"sell to sell is neutral", order(models.SideSell, 10, 50, 0), order(models.SideSell, 20, 50, 0), 500, 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acct := account(1, tc.start)
			require.NoError(t, New(newFakeAccounts()).ReconcileOnUpdate(ctx, acct, acct, tc.old, tc.next))
			requireLine(t, tc.expected, acct.LineAvailable)
		})
	}
}

func TestReconcileOnUpdateCancelledByUpdateReleasesOnly(t *testing.T) {
	acct := account(1, 500)
	next := order(models.SideBuy, 10, 50, 0)
	next.Status = models.StatusCancelled
	next.Cancelled = true

	require.NoError(t, New(newFakeAccounts()).ReconcileOnUpdate(context.Background(), acct, acct, order(models.SideBuy, 10, 50, 0), next))
	requireLine(t, 1000, acct.LineAvailable)
}

func TestReconcileOnUpdateSkipsClosedOrders(t *testing.T) {
	accts := newFakeAccounts()
	acct := account(1, 500)
	old := order(models.SideBuy, 10, 50, 0)
	old.Status = models.StatusCancelled
	old.Cancelled = true

	require.NoError(t, New(accts).ReconcileOnUpdate(context.Background(), acct, acct, old, order(models.SideBuy, 99, 99, 0)))
	requireLine(t, 500, acct.LineAvailable)
	require.Empty(t, accts.writes)
}

func TestReconcileOnUpdateRejectsNegativeLine(t *testing.T) {
	accts := newFakeAccounts()
	acct := account(1, 0)

	err := New(accts).ReconcileOnUpdate(context.Background(), acct, acct, order(models.SideBuy, 10, 50, 0), order(models.SideBuy, 10, 60, 0))
	require.True(t, errs.Is(err, errs.CodeInsufficientFunds), "got %v", err)
	require.Empty(t, accts.writes)
	requireLine(t, 0, acct.LineAvailable)
}

func TestReconcileOnUpdateMovesHoldBetweenAccounts(t *testing.T) {
	accts := newFakeAccounts()
	from := account(1, 500)
	to := account(2, 300)
	next := order(models.SideBuy, 10, 20, 0)
	next.AccountID = 2

	require.NoError(t, New(accts).ReconcileOnUpdate(context.Background(), from, to, order(models.SideBuy, 10, 50, 0), next))
	requireLine(t, 1000, from.LineAvailable)
	requireLine(t, 100, to.LineAvailable)

	poor := account(3, 10)
	err := New(accts).ReconcileOnUpdate(context.Background(), account(1, 0), poor, order(models.SideBuy, 10, 50, 0), next)
	require.True(t, errs.Is(err, errs.CodeInsufficientFunds))
	requireLine(t, 10, poor.LineAvailable)
}

func TestLedgerWriteFailureIsWrapped(t *testing.T) {
	accts := newFakeAccounts()
	accts.err = errors.New("disk full")
	acct := account(1, 1000)

	err := New(accts).ReserveForCreate(context.Background(), acct, order(models.SideBuy, 10, 50, 0), nil)
	require.ErrorIs(t, err, accts.err)
	requireLine(t, 1000, acct.LineAvailable)
}
