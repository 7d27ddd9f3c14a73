package backend

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"copyfund/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvNotice(t *testing.T, sub *Subscription) Notice {
	t.Helper()

	select {
	case n, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notice")
		return Notice{}
	}
}

func TestHubPublishOrderChange(t *testing.T) {
	hub := NewHub(testLogger())

	sub := hub.SubscribeOrders(1)
	defer sub.Close()

	hub.OrderChanged(1, "o-1", "insert", false)

	n := recvNotice(t, sub)
	assert.Equal(t, NoticeOrderInsert, n.Kind)
	assert.Equal(t, "o-1", n.OrderID)
	assert.Equal(t, int64(1), n.UserID)
}

func TestHubSettledFlag(t *testing.T) {
	hub := NewHub(testLogger())

	sub := hub.SubscribeOrders(1)
	defer sub.Close()

	hub.OrderChanged(1, "o-1", "update", true)

	n := recvNotice(t, sub)
	assert.Equal(t, NoticeOrderUpdate, n.Kind)
	assert.True(t, n.Settled)
}

func TestHubBalancePush(t *testing.T) {
	hub := NewHub(testLogger())

	sub := hub.SubscribeBalances(7)
	defer sub.Close()

	hub.BalanceChanged(models.AccountBalance{
		UserID:    7,
		Total:     decimal.RequireFromString("500"),
		Available: decimal.RequireFromString("480"),
	})

	n := recvNotice(t, sub)
	require.NotNil(t, n.Balance)
	assert.True(t, n.Balance.Total.Equal(decimal.RequireFromString("500")))
	assert.True(t, n.Balance.Available.Equal(decimal.RequireFromString("480")))
}

func TestHubIgnoresOtherUsers(t *testing.T) {
	hub := NewHub(testLogger())

	sub := hub.SubscribeOrders(1)
	defer sub.Close()

	hub.OrderChanged(2, "o-2", "insert", false)

	select {
	case n := <-sub.C():
		t.Fatalf("unexpected notice for another user: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	hub := NewHub(testLogger())

	sub := hub.SubscribeOrders(1)
	sub.Close()
	sub.Close() // второй Close - no-op, без паники

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestSecondSubscriptionReplacesFirst(t *testing.T) {
	// Одна активная подписка на пару (пользователь, таблица):
	// повторная подписка вытесняет предыдущую
	hub := NewHub(testLogger())

	first := hub.SubscribeOrders(1)
	second := hub.SubscribeOrders(1)
	defer second.Close()

	select {
	case _, ok := <-first.C():
		assert.False(t, ok, "first subscription must be closed, not receive")
	case <-time.After(time.Second):
		t.Fatal("first subscription was not closed")
	}

	hub.OrderChanged(1, "o-1", "update", false)

	n := recvNotice(t, second)
	assert.Equal(t, "o-1", n.OrderID)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub(testLogger())

	sub := hub.SubscribeOrders(1)
	defer sub.Close()

	// Переполняем буфер: публикация не должна блокироваться
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*3; i++ {
			hub.OrderChanged(1, "o", "update", false)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full buffer")
	}
}

func TestHubConcurrentPublishAndResubscribe(t *testing.T) {
	// Публикации из горутин storage гонятся с закрытием подписки при
	// вытеснении: отправка в закрытый канал недопустима
	hub := NewHub(testLogger())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.OrderChanged(1, "o", "update", false)
				}
			}
		}()
	}

	var sub *Subscription
	for i := 0; i < 200; i++ {
		// Каждая подписка вытесняет и закрывает предыдущую
		sub = hub.SubscribeOrders(1)
	}

	close(stop)
	wg.Wait()
	sub.Close()
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub(testLogger())

	orders := hub.SubscribeOrders(1)
	balances := hub.SubscribeBalances(1)

	hub.CloseAll()

	_, ok := <-orders.C()
	assert.False(t, ok)
	_, ok = <-balances.C()
	assert.False(t, ok)
}
