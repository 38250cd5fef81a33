package websocket

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/user/tradekub/backend/internal/models"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:        uuid.New(),
		AccountID: 1,
		Symbol:    "PTT",
		Side:      models.SideBuy,
		Price:     decimal.NewFromInt(10),
		Volume:    50,
		Balance:   50,
		Status:    models.StatusOpen,
	}
}

func receive(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case msg, ok := <-client.Send:
		require.True(t, ok, "client channel closed")
		var evt Event
		require.NoError(t, json.Unmarshal(msg, &evt))
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubBroadcastsOrderEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(8)
	go hub.Run(ctx)

	client := NewClient("test", 8)
	require.True(t, hub.Subscribe(client))

	order := testOrder()
	require.NoError(t, hub.OrderCreated(ctx, order))
	evt := receive(t, client)
	require.Equal(t, EventOrderCreated, evt.Type)
	require.Equal(t, order.ID, evt.Order.ID)

	require.NoError(t, hub.OrdersCancelled(ctx, []*models.Order{order, testOrder()}))
	require.Equal(t, EventOrderCancelled, receive(t, client).Type)
	require.Equal(t, EventOrderCancelled, receive(t, client).Type)

	hub.Unsubscribe(client)
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-client.Send
	require.False(t, ok)
}

func TestHubReportsBacklog(t *testing.T) {
	hub := NewHub(1)
	ctx := context.Background()

	require.NoError(t, hub.OrderCreated(ctx, testOrder()))
	require.ErrorIs(t, hub.OrderCreated(ctx, testOrder()), ErrBacklogFull)
	require.ErrorIs(t, hub.OrdersCancelled(ctx, []*models.Order{testOrder()}), ErrBacklogFull)
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(4)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := NewClient("test", 1)
	require.True(t, hub.Subscribe(client))
	cancel()
	<-done

	_, ok := <-client.Send
	require.False(t, ok)
	require.Equal(t, 0, hub.Clients())
}

func TestHubRejectsSubscribersAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(4)
	go hub.Run(ctx)

	client := NewClient("late", 1)
	require.True(t, hub.Subscribe(client))
	cancel()
	<-hub.Done()

	subscribed := make(chan bool, 1)
	go func() {
		hub.Unsubscribe(client)
		subscribed <- hub.Subscribe(NewClient("after", 1))
	}()
	select {
	case ok := <-subscribed:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe/unsubscribe blocked on a stopped hub")
	}
}
