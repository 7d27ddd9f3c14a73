package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"copyfund/internal/models"
	"copyfund/internal/storage"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "admin-test-token"

type testEnv struct {
	router  *mux.Router
	storage *storage.Storage
	userID  int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := storage.New(filepath.Join(t.TempDir(), "admin.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	user, err := st.CreateUser(context.Background(), "demo", "hash")
	require.NoError(t, err)

	h := New(st, testToken, logger)

	return &testEnv{
		router:  h.SetupRouter(),
		storage: st,
		userID:  user.ID,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	return rec
}

func (e *testEnv) createOrder(t *testing.T, amount string) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/admin/orders", testToken, map[string]any{
		"user_id": e.userID,
		"amount":  amount,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])

	return resp["id"]
}

func TestTokenAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/admin/mentors", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/mentors", "wrong-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/mentors", testToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMentor(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/mentors", testToken, map[string]any{
		"name":   "Чжан Вэй",
		"years":  10,
		"avatar": "/static/zhang.png",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	mentors, err := env.storage.ListMentors(context.Background())
	require.NoError(t, err)
	require.Len(t, mentors, 1)
	assert.Equal(t, "Чжан Вэй", mentors[0].Name)
}

func TestCreateMentorRejectsEmptyName(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/mentors", testToken, map[string]any{"years": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/orders", testToken, map[string]any{
		"user_id": env.userID,
		"amount":  "-100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "negative amount must be rejected")

	rec = env.do(t, http.MethodPost, "/admin/orders", testToken, map[string]any{
		"amount": "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "user_id is required")
}

func TestOrderModerationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.storage.ApplyPosting(ctx, env.userID, decimal.RequireFromString("1000"), decimal.RequireFromString("1000")))

	id := env.createOrder(t, "200")

	rec := env.do(t, http.MethodPut, "/admin/orders/"+id+"/approve", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/admin/orders/"+id+"/settle", testToken, map[string]string{
		"profit": "15.5",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	o, err := env.storage.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SettleSettled, o.SettleStatus)
	require.NotNil(t, o.Profit)
	assert.True(t, o.Profit.Equal(decimal.RequireFromString("15.5")))

	bal, err := env.storage.GetBalance(ctx, env.userID)
	require.NoError(t, err)
	assert.True(t, bal.Total.Equal(decimal.RequireFromString("1015.5")))
}

func TestRejectOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.storage.ApplyPosting(ctx, env.userID, decimal.RequireFromString("100"), decimal.RequireFromString("100")))

	id := env.createOrder(t, "60")

	rec := env.do(t, http.MethodPut, "/admin/orders/"+id+"/reject", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	o, err := env.storage.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, o.ReviewStatus)
	assert.Nil(t, o.Profit)
}

func TestModerationUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/admin/orders/no-such-id/approve", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettleRequiresDecimalProfit(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOrder(t, "10")

	rec := env.do(t, http.MethodPut, "/admin/orders/"+id+"/settle", testToken, map[string]string{
		"profit": "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPosting(t *testing.T) {
	env := newTestEnv(t)

	path := "/admin/balance/" + strconv.FormatInt(env.userID, 10)
	rec := env.do(t, http.MethodPost, path, testToken, map[string]string{
		"delta_total":     "500",
		"delta_available": "500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bal, err := env.storage.GetBalance(context.Background(), env.userID)
	require.NoError(t, err)
	assert.True(t, bal.Total.Equal(decimal.RequireFromString("500")))
	assert.True(t, bal.Available.Equal(decimal.RequireFromString("500")))
}

func TestPostingUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/balance/99999", testToken, map[string]string{
		"delta_total":     "1",
		"delta_available": "1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
