// Package orders orchestrates the order lifecycle: validate, reserve credit,
// persist and notify. Every mutating operation runs in one store transaction
// and is retried as a whole when it loses to a concurrent writer.
package orders

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/yanun0323/logs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/user/tradekub/backend/internal/database"
	"github.com/user/tradekub/backend/internal/errs"
	"github.com/user/tradekub/backend/internal/models"
)

const meterName = "github.com/user/tradekub/backend/internal/orders"

// Notifier receives committed order events for the match engine. Calls are
// best effort: failures are logged and never undo the committed change.
type Notifier interface {
	OrderCreated(ctx context.Context, order *models.Order) error
	OrdersCancelled(ctx context.Context, orders []*models.Order) error
}

type nopNotifier struct{}

func (nopNotifier) OrderCreated(context.Context, *models.Order) error      { return nil }
func (nopNotifier) OrdersCancelled(context.Context, []*models.Order) error { return nil }

// Service implements the order lifecycle on top of a database.Store.
type Service struct {
	store    database.Store
	notifier Notifier
	now      func() time.Time

	maxTries        uint
	maxElapsed      time.Duration
	initialInterval time.Duration

	meter   metric.Meter
	metrics *serviceMetrics
}

// Option configures a Service.
type Option func(*Service)

// WithRetry bounds how often a conflicting transaction is re-run.
func WithRetry(maxTries uint, maxElapsed time.Duration) Option {
	return func(s *Service) {
		if maxTries > 0 {
			s.maxTries = maxTries
		}
		if maxElapsed > 0 {
			s.maxElapsed = maxElapsed
		}
	}
}

// WithMeter records lifecycle counters on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(s *Service) {
		if meter != nil {
			s.meter = meter
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the lifecycle manager. A nil notifier disables match notifications.
func NewService(store database.Store, notifier Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		store:           store,
		notifier:        notifier,
		now:             time.Now,
		maxTries:        5,
		maxElapsed:      2 * time.Second,
		initialInterval: 20 * time.Millisecond,
		meter:           otel.Meter(meterName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.metrics = newServiceMetrics(s.meter)
	return s
}

// inTx runs fn in a store transaction, re-running it from scratch on
// database.ErrConflict. fn must rebuild any state it captures on each call.
func (s *Service) inTx(ctx context.Context, op string, fn func(context.Context, database.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			s.metrics.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		}
		err := s.store.WithTx(ctx, fn)
		if err == nil || errors.Is(err, database.ErrConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithMaxElapsedTime(s.maxElapsed),
	)
	if err != nil && errors.Is(err, database.ErrConflict) {
		logs.Errorf("%s: giving up after %d attempts: %v", op, attempt, err)
		return errs.New(errs.CodeConflict,
			errs.WithMessage("Order is being modified concurrently, please retry"),
			errs.WithCause(err),
		)
	}
	return err
}

// fail records rejected operations by code and passes err through.
func (s *Service) fail(ctx context.Context, op string, err error) error {
	code := errs.CodeOf(err)
	s.metrics.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("code", string(code)),
	))
	if code == errs.CodeInternal {
		logs.Errorf("%s failed: %v", op, err)
	}
	return err
}

// lockAccounts locks the given accounts in ascending id order so concurrent
// multi-account transactions cannot deadlock.
func lockAccounts(ctx context.Context, tx database.Tx, ids ...int64) (map[int64]*models.Account, error) {
	sorted := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	accounts := make(map[int64]*models.Account, len(sorted))
	for _, id := range sorted {
		account, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, errs.NotFound("Account not found")
		}
		accounts[id] = account
	}
	return accounts, nil
}

type serviceMetrics struct {
	created   metric.Int64Counter
	cancelled metric.Int64Counter
	rejected  metric.Int64Counter
	swept     metric.Int64Counter
	retries   metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) *serviceMetrics {
	m := &serviceMetrics{}
	m.created, _ = meter.Int64Counter("backoffice_orders_created_total",
		metric.WithDescription("Orders accepted and persisted"),
		metric.WithUnit("{order}"))
	m.cancelled, _ = meter.Int64Counter("backoffice_orders_cancelled_total",
		metric.WithDescription("Orders cancelled by the owner or an administrator"),
		metric.WithUnit("{order}"))
	m.rejected, _ = meter.Int64Counter("backoffice_orders_rejected_total",
		metric.WithDescription("Lifecycle operations rejected, by error code"),
		metric.WithUnit("{operation}"))
	m.swept, _ = meter.Int64Counter("backoffice_eod_swept_total",
		metric.WithDescription("Orders cancelled by the end-of-day sweep"),
		metric.WithUnit("{order}"))
	m.retries, _ = meter.Int64Counter("backoffice_tx_retries_total",
		metric.WithDescription("Transactions re-run after a conflict"),
		metric.WithUnit("{attempt}"))
	return m
}
