package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/go-heatcrm/auth"
	"github.com/diewo77/go-heatcrm/internal/config"
	"github.com/diewo77/go-heatcrm/internal/dbtest"
	"github.com/diewo77/go-heatcrm/internal/policy"
	"github.com/diewo77/go-heatcrm/internal/storage"
	"github.com/diewo77/go-heatcrm/internal/stream"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accessSecret  = "test-access-secret"
	refreshSecret = "test-refresh-secret"
	appOrigin     = "https://app.heatcrm.test"
)

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gdb := dbtest.New(t)
	tokens, err := auth.NewManager(accessSecret, refreshSecret, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	gate := policy.NewAuthGate(policy.NewDBResolver(gdb), time.Minute)
	tokens.SetUserVerifier(gate.VerifyUser)
	store, err := storage.NewLocalStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	provider := stream.Placeholder{}
	hub := stream.NewHub(time.Minute, provider)
	cfg := &config.Config{
		Server: config.ServerConfig{CORSOrigin: appOrigin},
		App:    config.AppConfig{Env: "test", StrictQuoteTransitions: true},
		Media:  config.MediaConfig{MaxUploadMB: 1},
	}
	srv := httptest.NewServer(New(Deps{
		DB: gdb, Config: cfg, Tokens: tokens, Gate: gate, Store: store,
		Hub: hub, Transcriber: provider, Extractor: provider,
	}))
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &testAPI{t: t, srv: srv}
}

// call sends a JSON request and decodes a JSON response into out when set.
func (a *testAPI) call(method, path, token string, body, out any) *http.Response {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(a.t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp
}

type session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID        uint   `json:"id"`
		AccountID uint   `json:"accountId"`
		Role      string `json:"role"`
	} `json:"user"`
}

func (a *testAPI) register(account, email string) session {
	a.t.Helper()
	var s session
	resp := a.call(http.MethodPost, "/api/auth/register", "", map[string]string{
		"accountName": account, "email": email, "password": "correct-horse", "firstName": "Admin",
	}, &s)
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	return s
}

func (a *testAPI) login(email, password string) session {
	a.t.Helper()
	var s session
	resp := a.call(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password}, &s)
	require.Equal(a.t, http.StatusOK, resp.StatusCode)
	return s
}

type created struct {
	ID uint `json:"id"`
}

func idPath(base string, id uint, rest ...string) string {
	return base + "/" + strconv.FormatUint(uint64(id), 10) + strings.Join(rest, "")
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	var body map[string]string
	resp := api.call(http.MethodGet, "/health", "", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp = api.call(http.MethodGet, "/healthz", "", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "up", body["database"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	api := newTestAPI(t)
	var body map[string]any
	resp := api.call(http.MethodGet, "/api/nothing-here", "", nil, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFoundError", body["error"])
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	s := api.register("Acme Heating", "admin@acme.test")

	expired, err := auth.NewManager(accessSecret, refreshSecret, -time.Minute, time.Hour)
	require.NoError(t, err)
	stale, err := expired.IssueAccess(auth.Identity{UserID: s.User.ID, AccountID: s.User.AccountID, Role: "admin"})
	require.NoError(t, err)

	forged, err := auth.NewManager("someone-else", refreshSecret, time.Hour, time.Hour)
	require.NoError(t, err)
	bad, err := forged.IssueAccess(auth.Identity{UserID: s.User.ID, AccountID: s.User.AccountID, Role: "admin"})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":      "",
		"garbage":      "not.a.jwt",
		"expired":      stale.Token,
		"wrong secret": bad.Token,
		"refresh":      s.RefreshToken,
	} {
		t.Run(name, func(t *testing.T) {
			var body map[string]any
			resp := api.call(http.MethodGet, "/api/customers", token, nil, &body)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "UnauthorizedError", body["error"])
		})
	}

	resp := api.call(http.MethodGet, "/api/customers", s.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterLoginRefresh(t *testing.T) {
	api := newTestAPI(t)
	api.register("Acme Heating", "admin@acme.test")
	s := api.login("admin@acme.test", "correct-horse")
	assert.Equal(t, "admin", s.User.Role)

	var me map[string]any
	resp := api.call(http.MethodGet, "/api/auth/me", s.AccessToken, nil, &me)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin@acme.test", me["email"])

	var rotated session
	resp = api.call(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": s.RefreshToken}, &rotated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = api.call(http.MethodGet, "/api/auth/me", rotated.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.call(http.MethodPost, "/api/auth/logout", "", map[string]string{"refreshToken": rotated.RefreshToken}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = api.call(http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": rotated.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var prefs map[string]bool
	resp = api.call(http.MethodPut, "/api/users/me/preferences", s.AccessToken, map[string]bool{"reducedMotion": true}, &prefs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, prefs["reducedMotion"])
}

func TestQuoteFlowAndTenantIsolation(t *testing.T) {
	api := newTestAPI(t)
	acme := api.register("Acme Heating", "admin@acme.test")
	rival := api.register("Rival Plumbing", "admin@rival.test")

	var customer created
	resp := api.call(http.MethodPost, "/api/customers", acme.AccessToken, map[string]any{
		"firstName": "Jane", "lastName": "Doe", "postcode": "m1 1aa",
	}, &customer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var quote struct {
		ID          uint    `json:"id"`
		QuoteNumber string  `json:"quoteNumber"`
		Subtotal    float64 `json:"subtotal"`
		TaxAmount   float64 `json:"taxAmount"`
		Total       float64 `json:"total"`
		Status      string  `json:"status"`
	}
	resp = api.call(http.MethodPost, "/api/quotes", acme.AccessToken, map[string]any{
		"customerId": customer.ID, "taxRate": 20,
		"lines": []map[string]any{
			{"description": "Combi boiler", "quantity": 2, "unitPrice": 500},
			{"description": "Labour", "quantity": 1, "unitPrice": 200},
		},
	}, &quote)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1200.0, quote.Subtotal)
	assert.Equal(t, 240.0, quote.TaxAmount)
	assert.Equal(t, 1440.0, quote.Total)
	assert.Equal(t, "draft", quote.Status)

	var errBody map[string]any
	resp = api.call(http.MethodPost, idPath("/api/quotes", quote.ID, "/accept"), acme.AccessToken, nil, &errBody)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "strict transitions reject draft to accepted")
	assert.Equal(t, "InvalidTransitionError", errBody["error"])

	resp = api.call(http.MethodPost, idPath("/api/quotes", quote.ID, "/send"), acme.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{
		idPath("/api/customers", customer.ID),
		idPath("/api/quotes", quote.ID),
		idPath("/api/quotes", quote.ID, "/pdf"),
	} {
		resp = api.call(http.MethodGet, path, rival.AccessToken, nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp = api.call(http.MethodDelete, idPath("/api/customers", customer.ID), rival.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.call(http.MethodGet, idPath("/api/quotes", quote.ID, "/pdf"), acme.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
}

func TestDuplicateSKUAndAppointmentValidation(t *testing.T) {
	api := newTestAPI(t)
	s := api.register("Acme Heating", "admin@acme.test")

	product := map[string]any{"sku": "BLR-24", "name": "Boiler", "unitPrice": 900}
	resp := api.call(http.MethodPost, "/api/products", s.AccessToken, product, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = api.call(http.MethodPost, "/api/products", s.AccessToken, product, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var customer created
	api.call(http.MethodPost, "/api/customers", s.AccessToken, map[string]any{"firstName": "A", "lastName": "B"}, &customer)
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var errBody struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	resp = api.call(http.MethodPost, "/api/appointments", s.AccessToken, map[string]any{
		"customerId": customer.ID, "title": "Survey",
		"scheduledStart": start, "scheduledEnd": start.Add(-30 * time.Minute),
	}, &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ValidationError", errBody.Error)
	assert.Equal(t, "must_be_after_start", errBody.Details["scheduledEnd"])
}

func TestReadonlyCannotWrite(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("Acme Heating", "admin@acme.test")

	resp := api.call(http.MethodPost, "/api/users", admin.AccessToken, map[string]any{
		"email": "viewer@acme.test", "password": "viewer-pass", "firstName": "Vera", "role": "readonly",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	viewer := api.login("viewer@acme.test", "viewer-pass")

	resp = api.call(http.MethodGet, "/api/customers", viewer.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = api.call(http.MethodPost, "/api/customers", viewer.AccessToken, map[string]any{"firstName": "A", "lastName": "B"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = api.call(http.MethodPost, "/api/boilers", viewer.AccessToken, map[string]any{"manufacturer": "A", "model": "B"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Deactivation takes effect on the next request.
	resp = api.call(http.MethodDelete, idPath("/api/users", viewer.User.ID), admin.AccessToken, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = api.call(http.MethodGet, "/api/customers", viewer.AccessToken, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublicShareView(t *testing.T) {
	api := newTestAPI(t)
	s := api.register("Acme Heating", "admin@acme.test")
	var customer created
	api.call(http.MethodPost, "/api/customers", s.AccessToken, map[string]any{
		"firstName": "Jane", "lastName": "Doe", "email": "jane@example.test",
	}, &customer)
	var visit created
	resp := api.call(http.MethodPost, "/api/visits", s.AccessToken, map[string]any{"customerId": customer.ID}, &visit)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var share struct {
		ShareID string `json:"shareId"`
		Path    string `json:"path"`
	}
	resp = api.call(http.MethodPost, idPath("/api/visits", visit.ID, "/share"), s.AccessToken, nil, &share)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view map[string]any
	resp = api.call(http.MethodGet, share.Path, "", nil, &view)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, view["customer"], "email")

	resp = api.call(http.MethodGet, "/api/public/view/unknown-share", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)
	req, err := http.NewRequest(http.MethodOptions, api.srv.URL+"/api/customers", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", appOrigin)
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := api.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, appOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.test")
	resp, err = api.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLiveTranscriptionThroughMiddleware(t *testing.T) {
	api := newTestAPI(t)
	s := api.register("Acme Heating", "admin@acme.test")
	var customer created
	api.call(http.MethodPost, "/api/customers", s.AccessToken, map[string]any{"firstName": "A", "lastName": "B"}, &customer)
	var visit created
	api.call(http.MethodPost, "/api/visits", s.AccessToken, map[string]any{"customerId": customer.ID}, &visit)

	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + idPath("/api/visits", visit.ID, "/transcriptions/live") + "?access_token=" + s.AccessToken
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() stream.Message {
		t.Helper()
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			var m stream.Message
			require.NoError(t, conn.ReadJSON(&m))
			if m.Type != stream.MsgHeartbeat {
				return m
			}
		}
	}
	assert.Equal(t, stream.MsgReady, read().Type)
	require.NoError(t, conn.WriteMessage(ws.BinaryMessage, []byte("pcm")))
	assert.Equal(t, stream.MsgPartial, read().Type)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	final := read()
	require.Equal(t, stream.MsgFinal, final.Type)
	assert.NotZero(t, final.TranscriptionID)

	var list []map[string]any
	resp := api.call(http.MethodGet, idPath("/api/visits", visit.ID, "/transcriptions"), s.AccessToken, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 1)
	assert.Equal(t, "live", list[0]["source"])

	_, _, err = ws.DefaultDialer.Dial(strings.Split(url, "?")[0], nil)
	assert.Error(t, err, "upgrade without a token is rejected")
}
