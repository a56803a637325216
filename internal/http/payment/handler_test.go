package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/audit"
	paymentHandler "github.com/MrJamesThe3rd/mpesa-gateway/internal/http/payment"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment/store"
)

type queueScheduler struct {
	mu    sync.Mutex
	tasks []func(context.Context)
}

func (q *queueScheduler) Go(task func(context.Context)) { q.After(0, task) }

func (q *queueScheduler) After(_ time.Duration, task func(context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
}

func (q *queueScheduler) RunAll() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range tasks {
		task(context.Background())
	}
}

type recorded struct {
	category audit.Category
	payload  any
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []recorded
}

func (m *memoryRecorder) Record(category audit.Category, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, recorded{category: category, payload: payload})
}

type envelope struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Errors  []string        `json:"errors"`
	Payment json.RawMessage `json:"payment"`
}

type testServer struct {
	router http.Handler
	sched  *queueScheduler
	audit  *memoryRecorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	sched := &queueScheduler{}

	svc, err := payment.NewService(store.NewMemory(), nil, sched, payment.Options{})
	require.NoError(t, err)

	rec := &memoryRecorder{}
	h := paymentHandler.NewHandler(svc, rec)

	r := chi.NewRouter()
	r.Route("/payments", h.Routes)

	return &testServer{router: r, sched: sched, audit: rec}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())

	return rec, env
}

func TestHandler_Initiate(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/payments/", `{"amount":10,"phone":"+254700000000","reference":"order-1"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, env.OK)

	var p map[string]any
	require.NoError(t, json.Unmarshal(env.Payment, &p))
	assert.Len(t, p["id"], 16)
	assert.InDelta(t, 10, p["amount"], 0)
	assert.Equal(t, "+254700000000", p["phone"])
	assert.Equal(t, "order-1", p["reference"])
	assert.Equal(t, "PENDING", p["status"])
	assert.NotContains(t, p, "completed_at")

	require.Len(t, s.audit.entries, 1)
	assert.Equal(t, audit.CategoryMock, s.audit.entries[0].category)
}

func TestHandler_Initiate_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/payments/", `{"amount":0,"phone":"abc"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.OK)
	assert.ElementsMatch(t, []string{
		"amount must be greater than 0",
		"phone must be 7-15 digits with an optional leading +",
	}, env.Errors)
	assert.Empty(t, s.sched.tasks)
}

func TestHandler_Initiate_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/payments/", `{"amount":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.OK)
	assert.Equal(t, []string{"invalid JSON body"}, env.Errors)
}

func TestHandler_Get(t *testing.T) {
	s := newTestServer(t)

	_, created := s.do(t, http.MethodPost, "/payments/", `{"amount":"25.50","phone":"0712345678"}`)

	var p struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(created.Payment, &p))

	rec, env := s.do(t, http.MethodGet, "/payments/"+p.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.OK)
	assert.Contains(t, string(env.Payment), `"status":"PENDING"`)
	assert.Contains(t, string(env.Payment), `"amount":25.5`)

	s.sched.RunAll()

	_, env = s.do(t, http.MethodGet, "/payments/"+p.ID, "")

	var done map[string]any
	require.NoError(t, json.Unmarshal(env.Payment, &done))
	assert.Equal(t, "SUCCESS", done["status"])
	assert.NotEmpty(t, done["completed_at"])
	assert.Equal(t, "demo completion", done["result_description"])
}

func TestHandler_Get_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/payments/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.OK)
	assert.Equal(t, "Not found", env.Error)
}
