package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/user/tradekub/backend/internal/auth"
	"github.com/user/tradekub/backend/internal/database/sqlite"
	"github.com/user/tradekub/backend/internal/models"
	"github.com/user/tradekub/backend/internal/orders"
	ws "github.com/user/tradekub/backend/internal/websocket"
)

type testServer struct {
	app   *fiber.App
	store *sqlite.Store
	alice string
	bob   string
	admin string
	sys   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	auth.Configure("handler-secret", "tradekub")
	auth.PINCost = bcrypt.MinCost

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	aliceHash, err := auth.HashPIN("k9z7")
	require.NoError(t, err)
	_, err = store.DB().Exec(`INSERT INTO stocks (symbol) VALUES ('PTT')`)
	require.NoError(t, err)
	_, err = store.DB().Exec(`INSERT INTO accounts (id, user_id, pin_hash, line_available) VALUES (1, 10, ?, '1000')`, aliceHash)
	require.NoError(t, err)

	hub := ws.NewHub(64)
	app := fiber.New(fiber.Config{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal})
	RegisterRoutes(app, Routes{
		Orders:     NewOrderHandler(orders.NewService(store, hub)),
		Hub:        hub,
		FeedBuffer: 16,
	})

	token := func(actor models.Actor) string {
		signed, err := auth.GenerateJWT(actor, time.Hour)
		require.NoError(t, err)
		return signed
	}
	return &testServer{
		app:   app,
		store: store,
		alice: token(models.Actor{UserID: 10, Username: "alice", Role: models.RoleUser}),
		bob:   token(models.Actor{UserID: 20, Username: "bob", Role: models.RoleUser}),
		admin: token(models.Actor{UserID: 1, Username: "root", Role: models.RoleAdmin}),
		sys:   token(models.SystemActor()),
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeError(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NotEmpty(t, payload.Error)
	return payload.Code
}

func createBody(volume int64, pin string) fiber.Map {
	return fiber.Map{"account_id": 1, "symbol": "PTT", "side": "Buy", "price": 10, "volume": volume, "pin": pin}
}

func TestOrderRoutesLifecycle(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/api/orders", "", createBody(50, "k9z7"))
	require.Equal(t, http.StatusUnauthorized, status)

	status, body := s.do(t, http.MethodPost, "/api/orders", s.alice, createBody(50, "k9z7"))
	require.Equal(t, http.StatusCreated, status, string(body))
	require.NotContains(t, string(body), "k9z7")
	var created models.Order
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, models.StatusOpen, created.Status)

	status, body = s.do(t, http.MethodPost, "/api/orders", s.alice, createBody(60, "k9z7"))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "insufficient_funds", decodeError(t, body))

	status, body = s.do(t, http.MethodPost, "/api/orders", s.alice, fiber.Map{"account_id": 1, "symbol": "PTT", "side": "hold", "price": 1, "volume": 1, "pin": "k9z7"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_error", decodeError(t, body))

	status, body = s.do(t, http.MethodGet, "/api/orders/"+created.ID.String(), s.alice, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	status, _ = s.do(t, http.MethodGet, "/api/orders/not-a-uuid", s.alice, nil)
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = s.do(t, http.MethodGet, "/api/orders/"+uuid.NewString(), s.alice, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, http.MethodGet, "/api/orders/account/1", s.alice, nil)
	require.Equal(t, http.StatusOK, status)
	var listed []models.Order
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)

	status, _ = s.do(t, http.MethodGet, "/api/orders/all", s.alice, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = s.do(t, http.MethodGet, "/api/orders/all", s.admin, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodPost, "/api/orders/cancel", s.bob, fiber.Map{"id": created.ID, "pin": "k9z7"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", decodeError(t, body))

	status, _ = s.do(t, http.MethodPost, "/api/orders/cancel", s.alice, fiber.Map{"id": created.ID, "pin": "0000"})
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = s.do(t, http.MethodPost, "/api/orders/cancel", s.alice, fiber.Map{"id": created.ID, "pin": "k9z7"})
	require.Equal(t, http.StatusOK, status, string(body))
	var cancelled struct {
		Result orders.CancelResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &cancelled))
	require.Equal(t, "500", cancelled.Result.Released.String())

	status, body = s.do(t, http.MethodDelete, "/api/orders/"+created.ID.String(), s.alice, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "already_cancelled", decodeError(t, body))

	account, err := s.store.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "1000", account.LineAvailable.String())
}

func TestUpdateAndAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/orders", s.alice, createBody(50, "k9z7"))
	require.Equal(t, http.StatusCreated, status, string(body))
	var created models.Order
	require.NoError(t, json.Unmarshal(body, &created))

	update := fiber.Map{
		"account_id": 1, "symbol": "PTT", "side": "Buy", "type": "Limit", "price": 8,
		"volume": 50, "matched": 0, "balance": 50, "status": "O", "cancelled": false, "validity": "Day",
	}
	path := "/api/orders/" + created.ID.String()

	status, _ = s.do(t, http.MethodPut, path, s.alice, update)
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = s.do(t, http.MethodPut, path, s.admin, update)
	require.Equal(t, http.StatusOK, status, string(body))

	update["status"] = "Z"
	status, body = s.do(t, http.MethodPut, path, s.admin, update)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_error", decodeError(t, body))

	status, _ = s.do(t, http.MethodPost, "/api/admin/orders/endofday", s.alice, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = s.do(t, http.MethodPost, "/api/admin/orders/endofday", s.sys, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var summary orders.SweepSummary
	require.NoError(t, json.Unmarshal(body, &summary))
	require.Equal(t, 1, summary.Cancelled)
	require.Equal(t, "400", summary.Released.String())

	status, body = s.do(t, http.MethodPost, "/api/admin/orders/endofday", s.admin, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &summary))
	require.Equal(t, 0, summary.Cancelled)

	status, _ = s.do(t, http.MethodDelete, "/api/admin/orders/"+created.ID.String(), s.sys, nil)
	require.Equal(t, http.StatusUnauthorized, status, "the scheduler may sweep but not delete")
	status, _ = s.do(t, http.MethodDelete, "/api/admin/orders/"+created.ID.String(), s.admin, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodGet, path, s.admin, nil)
	require.Equal(t, http.StatusNotFound, status)

	account, err := s.store.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "1000", account.LineAvailable.String())
}

func TestPortfolioRoute(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/portfolio/1", s.alice, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var payload struct {
		AccountID int64           `json:"account_id"`
		Holdings  models.Holdings `json:"holdings"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, int64(1), payload.AccountID)
	require.Empty(t, payload.Holdings)

	status, _ = s.do(t, http.MethodGet, "/api/portfolio/1", s.bob, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = s.do(t, http.MethodGet, "/api/portfolio/abc", s.alice, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestMatchFeedRequiresUpgradeAndOperator(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/ws/orders", s.alice, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, "/ws/orders", s.sys, nil)
	require.Equal(t, http.StatusUpgradeRequired, status)
}
