package router

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/application/checkout"
	appsettlement "github.com/ucp/merchant/internal/application/settlement"
	domain "github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/infrastructure/cache"
	"github.com/ucp/merchant/internal/infrastructure/catalog"
	"github.com/ucp/merchant/internal/infrastructure/fulfillment"
	"github.com/ucp/merchant/internal/infrastructure/ledger"
	"github.com/ucp/merchant/internal/infrastructure/lock"
	"github.com/ucp/merchant/internal/infrastructure/persistence"
	"github.com/ucp/merchant/internal/interfaces/http/dto"
	"github.com/ucp/merchant/internal/interfaces/http/handler"
	"github.com/ucp/merchant/internal/interfaces/http/middleware"
	"github.com/ucp/merchant/internal/interfaces/http/schema"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	buyer    = settlement.MustParseAccountID("0.0.1001")
	merchant = settlement.MustParseAccountID("0.0.5005")
)

type apiClient struct {
	t      *testing.T
	engine *gin.Engine
	seq    int
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	middleware.SetupValidator()

	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	discovery := checkout.NewDiscoveryService("http://localhost:8182", merchant, settlement.NetworkTestnet)

	settler, err := appsettlement.NewService(appsettlement.Config{
		Gateway:  ledger.NewSimulatedGateway(settlement.NetworkTestnet),
		Merchant: merchant,
	})
	require.NoError(t, err)

	svc, err := checkout.NewService(checkout.ServiceConfig{
		Repository:  persistence.NewInMemorySessionRepository(),
		Locker:      lock.NewInMemoryLocker(),
		Idempotency: store,
		Catalog:     catalog.NewStaticCatalog(),
		Fulfillment: fulfillment.NewStaticProvider(),
		Discovery:   discovery,
		Discounts: domain.NewDiscountTable(domain.DiscountRule{
			Code: "10OFF", Title: "10% off", Percent: decimal.NewFromInt(10),
		}),
		Settler: settler,
		Options: checkout.Options{
			CompleteTimeout:       2 * time.Second,
			PermalinkBase:         "https://shop.example.com/orders",
			BaseUnitsPerMinorUnit: decimal.NewFromInt(1),
			CommitRetries:         3,
		},
	})
	require.NoError(t, err)

	registry, err := schema.NewRegistry()
	require.NoError(t, err)

	engine, err := NewEngine(EngineConfig{
		ServiceName: "ucp-merchant-test",
		MaxBodySize: 1 << 20,
		CORS:        middleware.DefaultCORSConfig(),
	}, zap.NewNop())
	require.NoError(t, err)

	NewRouter(engine).
		Register(handler.NewHealthHandler("ucp-merchant")).
		Register(handler.NewDiscoveryHandler(discovery)).
		Register(handler.NewCheckoutHandler(svc, registry)).
		Setup()

	return &apiClient{t: t, engine: engine}
}

func (a *apiClient) key() string {
	a.seq++
	return fmt.Sprintf("idem-%d", a.seq)
}

func (a *apiClient) do(method, path string, body any, key string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("UCP-Agent", `profile="https://agent.example/profile"`)
	if key != "" {
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) checkout.SessionResponse {
	t.Helper()
	var s checkout.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return s
}

func lastAmount(s checkout.SessionResponse) int64 {
	return s.Totals[len(s.Totals)-1].Amount
}

func echo(s checkout.SessionResponse, extra ...map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(s.LineItems)+len(extra))
	for _, li := range s.LineItems {
		out = append(out, map[string]any{"id": li.ID, "item": map[string]any{"id": li.Item.ID}, "quantity": li.Quantity})
	}
	return append(out, extra...)
}

func credential(t *testing.T, amount int64, offset time.Duration) string {
	t.Helper()
	signer := ledger.NewEd25519Signer(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{3}, ed25519.SeedSize)))
	rec, err := ledger.NewTransferBuilder(buyer).
		ValidStart(time.Now().Add(-offset)).
		Pay(merchant, amount).
		Sign(signer)
	require.NoError(t, err)
	raw, err := ledger.NewProtoCodec().Encode(rec)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

// readySession drives a session through the flower shop flow over HTTP
func (a *apiClient) readySession() checkout.SessionResponse {
	t := a.t
	t.Helper()

	w := a.do(http.MethodPost, "/checkout-sessions", map[string]any{
		"currency":   "USD",
		"line_items": []map[string]any{{"item": map[string]any{"id": "bouquet_roses", "title": "ignored"}, "quantity": 1}},
		"buyer":      map[string]any{"full_name": "John Doe", "email": "john.doe@example.com"},
	}, a.key())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s := decodeSession(t, w)
	require.Equal(t, int64(1000), lastAmount(s))

	put := func(body map[string]any) checkout.SessionResponse {
		body["id"] = s.ID
		body["currency"] = "USD"
		body["payment"] = s.Payment
		w := a.do(http.MethodPut, "/checkout-sessions/"+s.ID, body, a.key())
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decodeSession(t, w)
	}

	s = put(map[string]any{"line_items": echo(s, map[string]any{"item": map[string]any{"id": "pot_ceramic"}, "quantity": 2})})
	require.Equal(t, int64(2000), lastAmount(s))
	s = put(map[string]any{"line_items": echo(s), "discounts": map[string]any{"codes": []string{"10OFF"}}})
	require.Equal(t, int64(1800), lastAmount(s))
	s = put(map[string]any{"line_items": echo(s), "fulfillment": map[string]any{"methods": []map[string]any{{"type": "shipping"}}}})
	s = put(map[string]any{"line_items": echo(s), "fulfillment": map[string]any{"methods": []map[string]any{{"selected_destination_id": "addr_1"}}}})
	s = put(map[string]any{"line_items": echo(s), "fulfillment": map[string]any{"methods": []map[string]any{{
		"selected_destination_id": "addr_1",
		"groups":                  []map[string]any{{"selected_option_id": "std-ship"}},
	}}}})
	require.Equal(t, int64(2100), lastAmount(s))
	require.Equal(t, domain.StatusReady.String(), s.Status)
	return s
}

func completeBody(cred string) map[string]any {
	return map[string]any{"payment_data": map[string]any{
		"id":           "instr_1",
		"handler_id":   checkout.LedgerHandlerID,
		"handler_name": checkout.LedgerHandlerName,
		"type":         "crypto",
		"credential":   cred,
	}}
}

func TestAPI_RosesCheckout(t *testing.T) {
	a := newAPI(t)
	s := a.readySession()

	key := a.key()
	w := a.do(http.MethodPost, "/checkout-sessions/"+s.ID+"/complete", completeBody(credential(t, 2100, time.Second)), key)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decodeSession(t, w)
	assert.Equal(t, domain.StatusCompleted.String(), done.Status)
	require.NotNil(t, done.Order)
	assert.Contains(t, done.Order.PermalinkURL, "https://shop.example.com/orders/")
	assert.NotEmpty(t, done.Order.Metadata[domain.MetaTransactionID])

	get := a.do(http.MethodGet, "/checkout-sessions/"+s.ID, nil, "")
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, domain.StatusCompleted.String(), decodeSession(t, get).Status)

	w = a.do(http.MethodPut, "/checkout-sessions/"+s.ID, map[string]any{
		"id": s.ID, "currency": "USD", "line_items": echo(done), "payment": done.Payment,
	}, a.key())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_CompleteReplayIsByteIdentical(t *testing.T) {
	a := newAPI(t)
	s := a.readySession()

	body := completeBody(credential(t, 2100, 2*time.Second))
	key := a.key()
	first := a.do(http.MethodPost, "/checkout-sessions/"+s.ID+"/complete", body, key)
	second := a.do(http.MethodPost, "/checkout-sessions/"+s.ID+"/complete", body, key)

	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestAPI_CompleteUnderpaid(t *testing.T) {
	a := newAPI(t)
	s := a.readySession()

	w := a.do(http.MethodPost, "/checkout-sessions/"+s.ID+"/complete", completeBody(credential(t, 2099, time.Second)), a.key())

	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, settlement.ErrKindAmountTooLow.String(), resp.Error.Code)
	assert.NotEmpty(t, resp.Error.RequestID)

	var failed checkout.SessionResponse
	require.NoError(t, json.Unmarshal(resp.Checkout, &failed))
	assert.Equal(t, domain.StatusFailed.String(), failed.Status)
	assert.Nil(t, failed.Order)
}

func TestAPI_CreateReplayAnswers200(t *testing.T) {
	a := newAPI(t)
	body := map[string]any{
		"currency":   "USD",
		"line_items": []map[string]any{{"item": map[string]any{"id": "bouquet_roses"}, "quantity": 1}},
	}
	key := a.key()
	first := a.do(http.MethodPost, "/checkout-sessions", body, key)
	second := a.do(http.MethodPost, "/checkout-sessions", body, key)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	body["line_items"] = []map[string]any{{"item": map[string]any{"id": "bouquet_roses"}, "quantity": 2}}
	reused := a.do(http.MethodPost, "/checkout-sessions", body, key)
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)
}

func TestAPI_RequestIDEchoed(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/checkout-sessions/not-a-session", nil)
	req.Header.Set("X-Request-ID", "legacy-7")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "legacy-7", w.Header().Get(middleware.HeaderRequestID))
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "legacy-7", resp.Error.RequestID)
}

func TestAPI_DiscoveryAndHealth(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/.well-known/ucp", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), checkout.LedgerHandlerName)
	assert.Contains(t, w.Body.String(), "0.0.5005")

	w = a.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_UnknownRouteAndMethod(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/orders", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), dto.ErrCodeRouteNotFound)

	w = a.do(http.MethodDelete, "/checkout-sessions/abc", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_BasePath(t *testing.T) {
	engine := gin.New()
	NewRouter(engine, WithBasePath("/ucp")).
		Register(handler.NewHealthHandler("ucp-merchant")).
		Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ucp/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
