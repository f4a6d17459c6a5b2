package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/application/checkout"
	domain "github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/interfaces/http/dto"
	"github.com/ucp/merchant/internal/interfaces/http/middleware"
	"github.com/ucp/merchant/internal/interfaces/http/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockCheckoutService struct {
	mock.Mock
}

func (m *mockCheckoutService) Create(ctx context.Context, key string, req checkout.CreateSessionRequest) (*checkout.Result, error) {
	args := m.Called(ctx, key, req)
	res, _ := args.Get(0).(*checkout.Result)
	return res, args.Error(1)
}

func (m *mockCheckoutService) Get(ctx context.Context, id string) (*checkout.Result, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*checkout.Result)
	return res, args.Error(1)
}

func (m *mockCheckoutService) Update(ctx context.Context, id, key string, req checkout.UpdateSessionRequest) (*checkout.Result, error) {
	args := m.Called(ctx, id, key, req)
	res, _ := args.Get(0).(*checkout.Result)
	return res, args.Error(1)
}

func (m *mockCheckoutService) Complete(ctx context.Context, id, key string, req checkout.CompleteSessionRequest) (*checkout.Result, error) {
	args := m.Called(ctx, id, key, req)
	res, _ := args.Get(0).(*checkout.Result)
	return res, args.Error(1)
}

const (
	sessionID    = "7f1c2a64-5d0e-4b8e-9a57-1c0f3e5d2b11"
	createBody   = `{"currency":"USD","line_items":[{"item":{"id":"bouquet_roses"},"quantity":1}]}`
	updateBody   = `{"id":"` + sessionID + `","currency":"USD","line_items":[{"id":"li_1","item":{"id":"bouquet_roses"},"quantity":2}],"payment":{"instruments":[]}}`
	completeBody = `{"payment_data":{"id":"instr_1","handler_id":"hedera_payment","credential":"AAEC"}}`
)

func setupCheckoutRouter(t *testing.T) (*gin.Engine, *mockCheckoutService) {
	t.Helper()
	middleware.SetupValidator()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)

	svc := new(mockCheckoutService)
	r := gin.New()
	r.Use(middleware.RequestID())
	NewCheckoutHandler(svc, registry).RegisterRoutes(r.Group(""))
	return r, svc
}

func doRequest(r *gin.Engine, method, path, body, key string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionResult(status string) *checkout.Result {
	view := &checkout.SessionResponse{ID: sessionID, Status: status, Currency: "USD"}
	body, _ := json.Marshal(view)
	return &checkout.Result{Session: view, Body: body}
}

func TestCheckoutHandler_Create(t *testing.T) {
	r, svc := setupCheckoutRouter(t)
	res := sessionResult("OPEN")
	res.Created = true
	svc.On("Create", mock.Anything, "key-1", mock.MatchedBy(func(req checkout.CreateSessionRequest) bool {
		return req.Currency == "USD" && len(req.LineItems) == 1 && req.LineItems[0].Item.ID == "bouquet_roses"
	})).Return(res, nil).Once()

	w := doRequest(r, http.MethodPost, "/checkout-sessions", createBody, "key-1")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, string(res.Body), w.Body.String())
	svc.AssertExpectations(t)
}

func TestCheckoutHandler_CreateReplay(t *testing.T) {
	r, svc := setupCheckoutRouter(t)
	// stored bodies are written unchanged, even non-canonical JSON
	stored := []byte(`{"id":"` + sessionID + `",  "status":"OPEN"}`)
	svc.On("Create", mock.Anything, "key-1", mock.Anything).
		Return(&checkout.Result{Body: stored, Created: true, Replayed: true}, nil).Once()

	w := doRequest(r, http.MethodPost, "/checkout-sessions", createBody, "key-1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(stored), w.Body.String())
}

func TestCheckoutHandler_RequiresIdempotencyKey(t *testing.T) {
	r, svc := setupCheckoutRouter(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/checkout-sessions", createBody},
		{http.MethodPut, "/checkout-sessions/" + sessionID, updateBody},
		{http.MethodPost, "/checkout-sessions/" + sessionID + "/complete", completeBody},
	} {
		w := doRequest(r, tc.method, tc.path, tc.body, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.path)
	}
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutHandler_CreateSchemaViolation(t *testing.T) {
	r, svc := setupCheckoutRouter(t)

	w := doRequest(r, http.MethodPost, "/checkout-sessions", `{"currency":"USD","line_items":[]}`, "key-1")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeSchema, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.RequestID)
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutHandler_Get(t *testing.T) {
	tests := []struct {
		name   string
		result *checkout.Result
		err    error
		status int
	}{
		{"ok", sessionResult("READY"), nil, http.StatusOK},
		{"still processing", func() *checkout.Result {
			res := sessionResult("READY")
			res.StillProcessing = true
			return res
		}(), nil, http.StatusAccepted},
		{"not found", nil, domain.ErrSessionNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, svc := setupCheckoutRouter(t)
			svc.On("Get", mock.Anything, sessionID).Return(tt.result, tt.err).Once()

			w := doRequest(r, http.MethodGet, "/checkout-sessions/"+sessionID, "", "")

			assert.Equal(t, tt.status, w.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestCheckoutHandler_Update(t *testing.T) {
	r, svc := setupCheckoutRouter(t)
	res := sessionResult("OPEN")
	svc.On("Update", mock.Anything, sessionID, "key-2", mock.MatchedBy(func(req checkout.UpdateSessionRequest) bool {
		return req.ID == sessionID && req.LineItems[0].ID == "li_1" && req.LineItems[0].Quantity == 2
	})).Return(res, nil).Once()

	w := doRequest(r, http.MethodPut, "/checkout-sessions/"+sessionID, updateBody, "key-2")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCheckoutHandler_UpdateConflict(t *testing.T) {
	r, svc := setupCheckoutRouter(t)
	svc.On("Update", mock.Anything, sessionID, "key-2", mock.Anything).
		Return(nil, domain.ErrSessionImmutable).Once()

	w := doRequest(r, http.MethodPut, "/checkout-sessions/"+sessionID, updateBody, "key-2")

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SESSION_IMMUTABLE", resp.Error.Code)
	assert.Empty(t, resp.Checkout)
}

func TestCheckoutHandler_UpdateRequiresPayment(t *testing.T) {
	r, svc := setupCheckoutRouter(t)
	body := `{"id":"` + sessionID + `","currency":"USD","line_items":[{"id":"li_1","item":{"id":"bouquet_roses"},"quantity":2}]}`

	w := doRequest(r, http.MethodPut, "/checkout-sessions/"+sessionID, body, "key-2")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeSchema, resp.Error.Code)
	svc.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutHandler_Complete(t *testing.T) {
	r, svc := setupCheckoutRouter(t)
	res := sessionResult("COMPLETED")
	svc.On("Complete", mock.Anything, sessionID, "key-3", mock.MatchedBy(func(req checkout.CompleteSessionRequest) bool {
		return req.PaymentData.HandlerID == "hedera_payment" && string(req.PaymentData.Credential) == "AAEC"
	})).Return(res, nil).Once()

	w := doRequest(r, http.MethodPost, "/checkout-sessions/"+sessionID+"/complete", completeBody, "key-3")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCheckoutHandler_CompleteTokenCredential(t *testing.T) {
	r, svc := setupCheckoutRouter(t)
	body := `{"payment_data":{"id":"instr_1","handler_id":"hedera_payment","credential":{"type":"token","token":"AAEC"}}}`
	svc.On("Complete", mock.Anything, sessionID, "key-3", mock.MatchedBy(func(req checkout.CompleteSessionRequest) bool {
		return string(req.PaymentData.Credential) == "AAEC"
	})).Return(sessionResult("COMPLETED"), nil).Once()

	w := doRequest(r, http.MethodPost, "/checkout-sessions/"+sessionID+"/complete", body, "key-3")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCheckoutHandler_CompleteSettlementFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    *settlement.Error
		status int
	}{
		{"amount too low", settlement.NewError(settlement.ErrKindAmountTooLow, "paid 2099, expected 2100"), http.StatusPaymentRequired},
		{"recipient mismatch", settlement.NewError(settlement.ErrKindRecipientMismatch, "no transfer to merchant"), http.StatusPaymentRequired},
		{"malformed", settlement.NewError(settlement.ErrKindMalformedCredential, "not base64"), http.StatusBadRequest},
		{"rejected", settlement.NewError(settlement.ErrKindSettlementRejected, "INSUFFICIENT_PAYER_BALANCE"), http.StatusBadGateway},
		{"busy", &settlement.Error{Kind: settlement.ErrKindNetworkSubmission, Reason: "BUSY", Transient: true}, http.StatusServiceUnavailable},
		{"timeout", settlement.NewError(settlement.ErrKindTimeout, "no receipt"), http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, svc := setupCheckoutRouter(t)
			failed := sessionResult("FAILED")
			svc.On("Complete", mock.Anything, sessionID, "key-3", mock.Anything).
				Return(nil, &checkout.SessionError{Err: tt.err, Checkout: failed.Body}).Once()

			w := doRequest(r, http.MethodPost, "/checkout-sessions/"+sessionID+"/complete", completeBody, "key-3")

			assert.Equal(t, tt.status, w.Code)
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.err.Kind.String(), resp.Error.Code)
			assert.Equal(t, tt.err.Reason, resp.Error.Message)
			assert.JSONEq(t, string(failed.Body), string(resp.Checkout))
		})
	}
}

func TestCheckoutHandler_CompleteMissingPaymentData(t *testing.T) {
	r, svc := setupCheckoutRouter(t)

	w := doRequest(r, http.MethodPost, "/checkout-sessions/"+sessionID+"/complete", `{"timeout_ms":100}`, "key-3")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
