package routes

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amineprimesmr/myfidpass/internal/clock"
	"github.com/amineprimesmr/myfidpass/internal/config"
	"github.com/amineprimesmr/myfidpass/internal/logging"
	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/pass"
	"github.com/amineprimesmr/myfidpass/internal/push"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

const passType = "pass.com.myfidpass.test"

type recordingSender struct {
	mu      sync.Mutex
	targets []push.Target
}

func (s *recordingSender) Send(_ context.Context, target push.Target, _ push.Payload) push.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
	return push.Outcome{Ref: target.DeviceID, Serial: target.Serial, Transport: target.Kind, Success: true}
}

type testEnv struct {
	app    *fiber.App
	svcs   *Services
	sender *recordingSender
	clock  *clock.MockClock
	apiKey string
}

func testConfig() config.Config {
	return config.Config{
		AppName:         "MyFidPass",
		AppEnv:          "test",
		StoreDriver:     config.DriverMemory,
		IdempotencyTTL:  time.Hour,
		DownloadCodeTTL: time.Minute,
		WebServicePaths: []string{"/v1", "/api/v1/wallet"},
		Pass: config.PassConfig{
			TypeID:        passType,
			Organization:  "MyFidPass",
			WebServiceURL: "https://passes.example.com",
			AuthSecret:    "routes-test-secret",
		},
		Push: config.PushConfig{SendTimeout: time.Second, Concurrency: 2, LogSize: 10},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	env := &testEnv{
		sender: &recordingSender{},
		clock:  clock.NewMockClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)),
	}
	deps := Deps{
		Cfg:     testConfig(),
		Cache:   cache,
		Logger:  logging.Discard(),
		Sender:  env.sender,
		Builder: pass.NewArchiveBuilder(pass.Identity{PassTypeID: passType, Organization: "MyFidPass"}, pass.NoopSigner{}),
		Clock:   env.clock,
	}
	svcs, err := NewServices(deps)
	require.NoError(t, err)

	_, key, err := svcs.Tenants.Create(context.Background(), tenant.CreateInput{ID: "cafe", Name: "Cafe Lumen"}, "cafe-secret-0123456789")
	require.NoError(t, err)

	env.app = fiber.New()
	require.NoError(t, Setup(env.app, deps, svcs))
	env.svcs = svcs
	env.apiKey = key
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, data
}

func (e *testEnv) merchant(idemKey string) map[string]string {
	h := map[string]string{"X-API-Key": e.apiKey}
	if idemKey != "" {
		h["Idempotency-Key"] = idemKey
	}
	return h
}

type enrollResponse struct {
	Account struct {
		Serial  string `json:"serial"`
		Balance int64  `json:"balance"`
	} `json:"account"`
	AuthToken    string `json:"auth_token"`
	DownloadCode string `json:"download_code"`
}

func (e *testEnv) enroll(t *testing.T, name string) enrollResponse {
	t.Helper()
	resp, body := e.do(t, fiber.MethodPost, "/api/v1/merchant/accounts", `{"name":"`+name+`"}`, e.merchant("enroll-"+name))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out enrollResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Account.Serial)
	require.NotEmpty(t, out.AuthToken)
	return out
}

func TestDeviceLifecycleAcrossPrefixes(t *testing.T) {
	env := newTestEnv(t)
	card := env.enroll(t, "Ada")
	serial := card.Account.Serial
	auth := map[string]string{fiber.HeaderAuthorization: "ApplePass " + card.AuthToken}

	resp, _ := env.do(t, fiber.MethodPost, "/v1/devices/D1/registrations/"+passType+"/"+serial, `{"pushToken":"tok-1"}`, auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The alias prefix serves the same registrations.
	resp, body := env.do(t, fiber.MethodGet, "/api/v1/wallet/devices/D1/registrations/"+passType, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var changed struct {
		SerialNumbers []string `json:"serialNumbers"`
		LastUpdated   string   `json:"lastUpdated"`
	}
	require.NoError(t, json.Unmarshal(body, &changed))
	require.Equal(t, []string{serial}, changed.SerialNumbers)
	cursor := changed.LastUpdated

	env.clock.Add(time.Second)
	resp, body = env.do(t, fiber.MethodPost, "/api/v1/merchant/accounts/"+serial+"/credit", `{"points":10,"client_tx_id":"tx-1"}`, env.merchant("credit-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var credit creditResponse
	require.NoError(t, json.Unmarshal(body, &credit))
	assert.Equal(t, int64(10), credit.Balance)
	assert.Equal(t, 1, credit.Fanout.Sent)
	require.Len(t, env.sender.targets, 1)
	assert.Equal(t, "tok-1", env.sender.targets[0].Token)
	assert.Equal(t, push.KindAPNs, env.sender.targets[0].Kind)

	env.clock.Add(time.Second)
	resp, body = env.do(t, fiber.MethodGet, "/v1/devices/D1/registrations/"+passType+"?passesUpdatedSince="+cursor, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &changed))
	require.Equal(t, []string{serial}, changed.SerialNumbers)

	resp, body = env.do(t, fiber.MethodGet, "/v1/passes/"+passType+"/"+serial, "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pass.ContentType, resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get(fiber.HeaderCacheControl))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderLastModified))
	assert.NotEmpty(t, body)

	resp, _ = env.do(t, fiber.MethodDelete, "/v1/devices/D1/registrations/"+passType+"/"+serial, "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, fiber.MethodGet, "/api/v1/merchant/accounts/"+serial+"/push-log", "", env.merchant(""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var log struct {
		Entries []push.LogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(body, &log))
	require.Len(t, log.Entries, 1)
	assert.True(t, log.Entries[0].Success)
}

func TestFetchRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	card := env.enroll(t, "Ada")

	resp, body := env.do(t, fiber.MethodGet, "/v1/passes/"+passType+"/"+card.Account.Serial, "", map[string]string{
		fiber.HeaderAuthorization: "ApplePass wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, string(body), card.AuthToken)
}

func TestDownloadCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	card := env.enroll(t, "Ada")

	resp, _ := env.do(t, fiber.MethodGet, "/api/v1/passes/download/"+card.DownloadCode, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), card.Account.Serial+".pkpass")

	resp, _ = env.do(t, fiber.MethodGet, "/api/v1/passes/download/"+card.DownloadCode, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMerchantCreditIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	card := env.enroll(t, "Ada")
	path := "/api/v1/merchant/accounts/" + card.Account.Serial + "/credit"

	resp, first := env.do(t, fiber.MethodPost, path, `{"points":5,"client_tx_id":"tx-a"}`, env.merchant("k1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Same Idempotency-Key replays the stored response.
	resp, replay := env.do(t, fiber.MethodPost, path, `{"points":5,"client_tx_id":"tx-a"}`, env.merchant("k1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	assert.JSONEq(t, string(first), string(replay))

	// A new key with the same client transaction id is a duplicate posting.
	resp, body := env.do(t, fiber.MethodPost, path, `{"points":5,"client_tx_id":"tx-a"}`, env.merchant("k2"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var credit creditResponse
	require.NoError(t, json.Unmarshal(body, &credit))
	assert.True(t, credit.Duplicate)
	assert.Equal(t, int64(5), credit.Balance)
}

func TestMerchantErrors(t *testing.T) {
	env := newTestEnv(t)
	card := env.enroll(t, "Ada")

	resp, _ := env.do(t, fiber.MethodGet, "/api/v1/merchant/accounts/"+card.Account.Serial, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, fiber.MethodGet, "/api/v1/merchant/accounts/missing", "", env.merchant(""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, fiber.MethodPost, "/api/v1/merchant/accounts/"+card.Account.Serial+"/credit", `{"points":0}`, env.merchant("zero"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, fiber.MethodPost, "/api/v1/merchant/accounts", `{"name":""}`, env.merchant("noname"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/merchant/accounts", `{"serial":"`+card.Account.Serial+`","name":"Grace"}`, env.merchant("taken"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "account already exists", string(body))
}

func TestBroadcastAndReset(t *testing.T) {
	env := newTestEnv(t)
	env.enroll(t, "Ada")
	env.enroll(t, "Grace")

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/merchant/broadcast", `{"message":"Double points today"}`, env.merchant("b1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"accounts":2,"fanout":{"skipped":0,"sent":0,"failed":0}}`, string(body))

	resp, body = env.do(t, fiber.MethodDelete, "/api/v1/merchant/accounts", "", env.merchant("reset"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deleted":2}`, string(body))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, fiber.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Status map[string]string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ok", out.Status["redis"])
	assert.Equal(t, config.DriverMemory, out.Status["store"])
}

func TestSetupRequiresRedisOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	deps := Deps{Cfg: cfg, Logger: logging.Discard(), Sender: &recordingSender{}}
	svcs, err := NewServices(deps)
	require.NoError(t, err)
	require.Error(t, Setup(fiber.New(), deps, svcs))
}

func TestRegistrationSurvivesLaterRequests(t *testing.T) {
	env := newTestEnv(t)
	card := env.enroll(t, "Ada")
	serial := card.Account.Serial
	auth := map[string]string{fiber.HeaderAuthorization: "ApplePass " + card.AuthToken}

	resp, _ := env.do(t, fiber.MethodPost, "/v1/devices/D1/registrations/"+passType+"/"+serial, `{"pushToken":"tok-1"}`, auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// An unrelated request with a long path reuses the request buffers.
	resp, _ = env.do(t, fiber.MethodGet, "/api/v1/merchant/accounts/zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", "", env.merchant(""))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	serials, err := env.svcs.Registrations.ListForDevice(context.Background(), "D1", passType)
	require.NoError(t, err)
	assert.Equal(t, []string{serial}, serials)
	regs, err := env.svcs.Registrations.ListForSerials(context.Background(), []string{serial})
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "D1", regs[0].DeviceID)
	assert.Equal(t, passType, regs[0].PassTypeID)

	resp, body := env.do(t, fiber.MethodPost, "/api/v1/merchant/accounts/"+serial+"/credit", `{"points":3,"client_tx_id":"tx-9"}`, env.merchant("credit-9"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var credit creditResponse
	require.NoError(t, json.Unmarshal(body, &credit))
	assert.Equal(t, 1, credit.Fanout.Sent)

	resp, body = env.do(t, fiber.MethodGet, "/v1/devices/D1/registrations/"+passType, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var changed struct {
		SerialNumbers []string `json:"serialNumbers"`
	}
	require.NoError(t, json.Unmarshal(body, &changed))
	assert.Equal(t, []string{serial}, changed.SerialNumbers)
}

type fixedSigner []byte

func (s fixedSigner) Sign(context.Context, []byte) ([]byte, error) { return s, nil }

func TestNewServicesUsesConfiguredSigner(t *testing.T) {
	ctx := context.Background()
	svcs, err := NewServices(Deps{
		Cfg:    testConfig(),
		Logger: logging.Discard(),
		Sender: &recordingSender{},
		Signer: fixedSigner("pkcs7"),
	})
	require.NoError(t, err)

	_, _, err = svcs.Tenants.Create(ctx, tenant.CreateInput{ID: "cafe", Name: "Cafe Lumen"}, "cafe-secret-0123456789")
	require.NoError(t, err)
	account, err := svcs.Loyalty.Enroll(ctx, "cafe", loyalty.EnrollInput{Name: "Ada"})
	require.NoError(t, err)

	artifact, err := svcs.Protocol.FetchArtifact(ctx, passType, account.Serial, svcs.Protocol.Token(account.Serial))
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(artifact.Bytes), int64(len(artifact.Bytes)))
	require.NoError(t, err)
	var signature []byte
	for _, f := range zr.File {
		if f.Name != "signature" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		signature, err = io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
	}
	assert.Equal(t, []byte("pkcs7"), signature)
}
