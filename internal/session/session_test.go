package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"copyfund/internal/backend"
	"copyfund/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refTZ = time.FixedZone("UTC+8", 8*60*60)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeBackend - сервис данных для тестов: выборки из памяти,
// фид изменений - настоящий Hub
type fakeBackend struct {
	hub *backend.Hub

	mu       sync.Mutex
	orders   []models.Order
	balance  models.AccountBalance
	failNext bool
	fetches  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		hub: backend.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func (f *fakeBackend) setOrders(orders ...models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
}

func (f *fakeBackend) setFailNext(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = fail
}

func (f *fakeBackend) FetchOrders(ctx context.Context, userID int64, win models.Window) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches++
	if f.failNext {
		return nil, &backend.TransportError{Op: "fetch orders", Err: errors.New("connection refused")}
	}

	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID && win.Contains(o.CreatedAt) {
			out = append(out, o)
		}
	}

	return out, nil
}

func (f *fakeBackend) FetchBalance(ctx context.Context, userID int64) (models.AccountBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.balance, nil
}

func (f *fakeBackend) SubscribeOrderChanges(userID int64) *backend.Subscription {
	return f.hub.SubscribeOrders(userID)
}

func (f *fakeBackend) SubscribeBalanceChanges(userID int64) *backend.Subscription {
	return f.hub.SubscribeBalances(userID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func order(id string, userID int64, amount string, settle models.SettleStatus) models.Order {
	o := models.Order{
		ID:           id,
		UserID:       userID,
		Amount:       dec(amount),
		SettleStatus: settle,
		ReviewStatus: models.ReviewApproved,
		CreatedAt:    time.Now().UTC(),
	}
	o.UpdatedAt = o.CreatedAt

	return o
}

func TestOpenWithoutUserIsNoop(t *testing.T) {
	m := NewManager(newFakeBackend(), refTZ, testLogger())

	require.NoError(t, m.Open(context.Background(), 0))

	_, ok := m.Snapshot(0)
	assert.False(t, ok)
}

func TestInitialSnapshotLoad(t *testing.T) {
	fb := newFakeBackend()
	fb.balance = models.AccountBalance{UserID: 1, Total: dec("500"), Available: dec("480")}
	fb.setOrders(order("o1", 1, "100", models.SettleUnsettled))

	m := NewManager(fb, refTZ, testLogger())
	defer m.Shutdown()

	require.NoError(t, m.Open(context.Background(), 1))

	view, ok := m.Snapshot(1)
	require.True(t, ok)
	assert.True(t, view.Aggregate.PositionAssets.Equal(dec("100")))
	assert.True(t, view.Balance.Total.Equal(dec("500")))
	assert.False(t, view.Stale)
}

func TestEventTriggersRecompute(t *testing.T) {
	fb := newFakeBackend()

	m := NewManager(fb, refTZ, testLogger())
	defer m.Shutdown()

	require.NoError(t, m.Open(context.Background(), 1))

	changed := make(chan View, 16)
	unsubscribe, ok := m.OnChange(1, func(v View) { changed <- v })
	require.True(t, ok)
	defer unsubscribe()

	fb.setOrders(order("o1", 1, "250", models.SettleUnsettled))
	fb.hub.OrderChanged(1, "o1", "insert", false)

	require.Eventually(t, func() bool {
		view, ok := m.Snapshot(1)
		return ok && view.Aggregate.PositionAssets.Equal(dec("250"))
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("onChange callback was not invoked after recompute")
	}
}

func TestDuplicateEventsAreHarmless(t *testing.T) {
	// At-least-once доставка: дубликаты приводят к тем же цифрам
	fb := newFakeBackend()
	fb.setOrders(order("o1", 1, "100", models.SettleUnsettled))

	m := NewManager(fb, refTZ, testLogger())
	defer m.Shutdown()

	require.NoError(t, m.Open(context.Background(), 1))

	for i := 0; i < 5; i++ {
		fb.hub.OrderChanged(1, "o1", "update", false)
	}

	require.Eventually(t, func() bool {
		view, ok := m.Snapshot(1)
		return ok && view.Aggregate.PositionAssets.Equal(dec("100")) && !view.Stale
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBalancePushLastWriteWins(t *testing.T) {
	fb := newFakeBackend()
	fb.balance = models.AccountBalance{UserID: 1, Total: dec("400"), Available: dec("380")}

	m := NewManager(fb, refTZ, testLogger())
	defer m.Shutdown()

	require.NoError(t, m.Open(context.Background(), 1))

	// Устаревший push, затем актуальный: побеждает последний, без слияния
	fb.hub.BalanceChanged(models.AccountBalance{UserID: 1, Total: dec("400"), Available: dec("380")})
	fb.hub.BalanceChanged(models.AccountBalance{UserID: 1, Total: dec("500"), Available: dec("480")})

	require.Eventually(t, func() bool {
		view, ok := m.Snapshot(1)
		return ok &&
			view.Balance.Total.Equal(dec("500")) &&
			view.Balance.Available.Equal(dec("480"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransportFailureKeepsLastKnownGood(t *testing.T) {
	fb := newFakeBackend()
	fb.setOrders(order("o1", 1, "100", models.SettleUnsettled))

	m := NewManager(fb, refTZ, testLogger())
	defer m.Shutdown()

	require.NoError(t, m.Open(context.Background(), 1))

	fb.setFailNext(true)
	fb.hub.OrderChanged(1, "o1", "update", false)

	// Снапшот помечается устаревшим, но прежние цифры не обнуляются
	require.Eventually(t, func() bool {
		view, ok := m.Snapshot(1)
		return ok && view.Stale
	}, 2*time.Second, 10*time.Millisecond)

	view, _ := m.Snapshot(1)
	assert.True(t, view.Aggregate.PositionAssets.Equal(dec("100")))

	// Восстановление транспорта снимает флаг при следующем пересчёте
	fb.setFailNext(false)
	fb.hub.OrderChanged(1, "o1", "update", false)

	require.Eventually(t, func() bool {
		view, ok := m.Snapshot(1)
		return ok && !view.Stale
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReopenReplacesSession(t *testing.T) {
	fb := newFakeBackend()

	m := NewManager(fb, refTZ, testLogger())
	defer m.Shutdown()

	require.NoError(t, m.Open(context.Background(), 1))
	require.NoError(t, m.Open(context.Background(), 1))

	// Новая сессия живёт и реагирует на события
	fb.setOrders(order("o1", 1, "42", models.SettleUnsettled))
	fb.hub.OrderChanged(1, "o1", "insert", false)

	require.Eventually(t, func() bool {
		view, ok := m.Snapshot(1)
		return ok && view.Aggregate.PositionAssets.Equal(dec("42"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsCallbacks(t *testing.T) {
	fb := newFakeBackend()

	m := NewManager(fb, refTZ, testLogger())

	require.NoError(t, m.Open(context.Background(), 1))

	var mu sync.Mutex
	calls := 0
	_, ok := m.OnChange(1, func(View) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.True(t, ok)

	m.Close(1)

	mu.Lock()
	after := calls
	mu.Unlock()

	fb.hub.OrderChanged(1, "o1", "insert", false)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, calls, "torn-down session must not fire callbacks")

	_, ok = m.Snapshot(1)
	assert.False(t, ok)
}

func TestCloseDuringFeedChurn(t *testing.T) {
	// Вытеснение подписок заставляет сессию переподписываться; параллельный
	// Close не должен ни гоняться за полями подписок, ни оставлять свежую
	// подписку живой после завершения сессии
	fb := newFakeBackend()

	m := NewManager(fb, refTZ, testLogger())

	require.NoError(t, m.Open(context.Background(), 1))

	churnDone := make(chan struct{})
	go func() {
		defer close(churnDone)
		for i := 0; i < 50; i++ {
			// Новая подписка на ту же пару закрывает подписку сессии
			fb.hub.SubscribeOrders(1).Close()
			fb.hub.SubscribeBalances(1).Close()
		}
	}()

	m.Close(1)
	<-churnDone

	_, ok := m.Snapshot(1)
	assert.False(t, ok)

	// Если бы сессия оставила подписку в фиде, публикация ушла бы в её
	// канал; свежая подписка обязана получать уведомления сама
	sub := fb.hub.SubscribeOrders(1)
	defer sub.Close()

	fb.hub.OrderChanged(1, "after-close", "insert", false)

	select {
	case n := <-sub.C():
		assert.Equal(t, "after-close", n.OrderID)
	case <-time.After(time.Second):
		t.Fatal("notice did not reach the live subscription")
	}
}

func TestSessionsAreIsolatedPerUser(t *testing.T) {
	fb := newFakeBackend()
	fb.setOrders(
		order("o1", 1, "100", models.SettleUnsettled),
		order("o2", 2, "900", models.SettleUnsettled),
	)

	m := NewManager(fb, refTZ, testLogger())
	defer m.Shutdown()

	require.NoError(t, m.Open(context.Background(), 1))
	require.NoError(t, m.Open(context.Background(), 2))

	v1, ok := m.Snapshot(1)
	require.True(t, ok)
	v2, ok := m.Snapshot(2)
	require.True(t, ok)

	assert.True(t, v1.Aggregate.PositionAssets.Equal(dec("100")))
	assert.True(t, v2.Aggregate.PositionAssets.Equal(dec("900")))
}
