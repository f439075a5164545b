package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/cache"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/config"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/cxml"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/guard"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/idempotency"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/metrics"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/notify"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

// adminSecretHex is a fixed 32-byte test secret.
const adminSecretHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func quietTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeArchive is an in-memory CDR archive exercising both the insert and
// listing surfaces.
type fakeArchive struct {
	mu     sync.Mutex
	events []models.CDREvent
}

func (a *fakeArchive) Insert(_ context.Context, ev *models.CDREvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *ev)
	return nil
}

func (a *fakeArchive) ListRecent(_ context.Context, tenantID string, limit int) ([]models.CDREvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.CDREvent
	for i := len(a.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if a.events[i].TenantID == tenantID {
			out = append(out, a.events[i])
		}
	}
	return out, nil
}

type testEnv struct {
	server  *Server
	db      *database.DB
	tenant  *models.Tenant
	idem    *idempotency.Memory
	archive *fakeArchive
	token   string
	secret  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tenant := &models.Tenant{Name: "Acme", DomainUUID: "dom-1", Timezone: "UTC"}
	if err := database.NewTenantRepository(db).Create(ctx, tenant); err != nil {
		t.Fatalf("creating tenant: %v", err)
	}

	token := "wh_test_token"
	hash, err := database.HashToken(token)
	if err != nil {
		t.Fatalf("hashing token: %v", err)
	}
	if err := database.NewCredentialRepository(db).Upsert(ctx, &models.WebhookCredential{
		TenantID: tenant.ID, TokenHash: hash,
	}); err != nil {
		t.Fatalf("storing credential: %v", err)
	}

	ext := &models.Extension{
		TenantID:      tenant.ID,
		Extension:     "100",
		Kind:          models.ExtensionKindUser,
		Active:        true,
		Configuration: `{"sip_address":"sip:100@pbx.example.com"}`,
	}
	if err := database.NewExtensionRepository(db).Create(ctx, ext); err != nil {
		t.Fatalf("creating extension: %v", err)
	}
	ext2 := &models.Extension{
		TenantID:      tenant.ID,
		Extension:     "200",
		Kind:          models.ExtensionKindUser,
		Active:        true,
		Configuration: `{"sip_address":"sip:200@pbx.example.com"}`,
	}
	if err := database.NewExtensionRepository(db).Create(ctx, ext2); err != nil {
		t.Fatalf("creating extension: %v", err)
	}
	dids := database.NewDidNumberRepository(db)
	for number, target := range map[string]string{"+15550100": "100", "+15550200": "200"} {
		if err := dids.Create(ctx, &models.DidNumber{
			TenantID:      tenant.ID,
			Number:        number,
			RoutingType:   models.RoutingTypeExtension,
			RoutingConfig: `{"extension":"` + target + `"}`,
			Active:        true,
		}); err != nil {
			t.Fatalf("creating did %s: %v", number, err)
		}
	}

	groups := database.NewRingGroupRepository(db)
	group := &models.RingGroup{
		TenantID:    tenant.ID,
		Name:        "support",
		Strategy:    models.StrategySequential,
		RingTimeout: 15,
		RingTurns:   2,
	}
	if err := groups.Create(ctx, group); err != nil {
		t.Fatalf("creating ring group: %v", err)
	}
	if err := groups.ReplaceMembers(ctx, group.ID, []models.RingGroupMember{
		{ExtensionID: ext.ID, Priority: 1},
		{ExtensionID: ext2.ID, Priority: 2},
	}); err != nil {
		t.Fatalf("setting ring group members: %v", err)
	}
	if err := dids.Create(ctx, &models.DidNumber{
		TenantID:      tenant.ID,
		Number:        "+15550300",
		RoutingType:   models.RoutingTypeRingGroup,
		RoutingConfig: fmt.Sprintf(`{"ring_group_id":%d}`, group.ID),
		Active:        true,
	}); err != nil {
		t.Fatalf("creating ring group did: %v", err)
	}

	cfg := &config.Config{
		HTTPPort:           8080,
		LogLevel:           "error",
		LogFormat:          "text",
		CXSignatureSecret:  "cx-test-secret",
		SignatureTolerance: 5 * time.Minute,
		IdempotencyTTL:     time.Hour,
		IdempotencyMaxBody: 64 * 1024,
		ExtensionCacheTTL:  time.Minute,
		ScheduleCacheTTL:   time.Minute,
		VoiceRateLimit:     1000,
		VoiceRateBurst:     1000,
		StatusRateLimit:    1000,
		StatusRateBurst:    1000,
		LockWait:           time.Second,
		AdminHookSecret:    adminSecretHex,
	}

	logger := quietTestLogger()
	lockGuard := guard.NewMemory()
	backend := cache.NewMemory()
	t.Cleanup(backend.Close)
	cachedStore := cache.NewStore(database.NewConfigStore(db), backend,
		cfg.ExtensionCacheTTL, cfg.ScheduleCacheTTL, logger)

	idem := idempotency.NewMemory(cfg.IdempotencyTTL, cfg.IdempotencyMaxBody)
	t.Cleanup(idem.Close)

	auth := NewAuthenticator(
		database.NewTenantRepository(db),
		database.NewCredentialRepository(db),
		database.NewDidNumberRepository(db),
		cfg.CXSignatureSecret,
		cfg.SignatureTolerance,
		nil,
	)

	archive := &fakeArchive{}
	server, err := NewServer(Deps{
		Config:      cfg,
		Logger:      logger,
		Auth:        auth,
		Resolver:    routing.NewResolver(cachedStore, lockGuard, cfg.LockWait, logger),
		Idempotency: idem,
		Guard:       lockGuard,
		Invalidator: cachedStore,
		Forwarder:   notify.NewForwarder("", "", logger),
		CDRArchive:  archive,
		Metrics:     metrics.NewRegistry(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	t.Cleanup(server.Close)

	return &testEnv{
		server:  server,
		db:      db,
		tenant:  tenant,
		idem:    idem,
		archive: archive,
		token:   token,
		secret:  cfg.CXSignatureSecret,
	}
}

func (e *testEnv) postVoice(t *testing.T, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", "/webhooks/voice", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, r)
	return w
}

func voiceForm(callID string) url.Values {
	return url.Values{
		"From":    {"+61255509999"},
		"To":      {"+15550100"},
		"CallSid": {callID},
	}
}

func TestVoiceWebhookRoutesCall(t *testing.T) {
	env := newTestEnv(t)

	w := env.postVoice(t, voiceForm("call-1"), map[string]string{
		"Authorization": "Bearer " + env.token,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("content type: %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Number>100</Number>") {
		t.Errorf("expected dial to extension 100:\n%s", body)
	}
}

func TestVoiceWebhookBadTokenStillAnswers200(t *testing.T) {
	env := newTestEnv(t)

	w := env.postVoice(t, voiceForm("call-2"), map[string]string{
		"Authorization": "Bearer wrong",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("call-control path must answer 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup>") {
		t.Errorf("expected spoken rejection:\n%s", body)
	}
	if strings.Contains(body, "<Dial") {
		t.Errorf("rejected call must not dial:\n%s", body)
	}
}

func TestVoiceWebhookUnknownNumber(t *testing.T) {
	env := newTestEnv(t)

	form := voiceForm("call-3")
	form.Set("To", "+19990000000")
	w := env.postVoice(t, form, map[string]string{
		"Authorization": "Bearer " + env.token,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Errorf("expected hangup:\n%s", w.Body.String())
	}
}

func (e *testEnv) postIVR(t *testing.T, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", "/webhooks/ivr", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, r)
	return w
}

func TestSequentialRingGroupHonorsRingTurns(t *testing.T) {
	env := newTestEnv(t)
	headers := map[string]string{"Authorization": "Bearer " + env.token}

	// First delivery rings the first member and chains to position 1.
	form := voiceForm("call-seq")
	form.Set("To", "+15550300")
	w := env.postVoice(t, form, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("initial delivery: %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Number>100</Number>") {
		t.Fatalf("expected first member first:\n%s", body)
	}
	if !strings.Contains(body, "pos=1") {
		t.Errorf("expected continuation to position 1:\n%s", body)
	}

	// Position 3 is the second member of the second turn: with two members
	// and two turns the loop is still live and wraps back onto the list.
	form = voiceForm("call-seq")
	form.Set("To", "+15550300")
	form.Set("pos", "3")
	w = env.postIVR(t, form, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("second-turn delivery: %d", w.Code)
	}
	body = w.Body.String()
	if !strings.Contains(body, "<Number>200</Number>") {
		t.Errorf("expected second member on the second turn:\n%s", body)
	}

	// Position 4 exhausts both turns.
	form.Set("pos", "4")
	w = env.postIVR(t, form, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("exhausted delivery: %d", w.Code)
	}
	body = w.Body.String()
	if strings.Contains(body, "<Number>") {
		t.Errorf("exhausted loop must stop ringing:\n%s", body)
	}
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup>") {
		t.Errorf("expected spoken give-up:\n%s", body)
	}
}

func TestVoiceWebhookIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	headers := map[string]string{
		"Authorization":      "Bearer " + env.token,
		headerIdempotencyKey: "retry-123",
	}

	first := env.postVoice(t, voiceForm("call-4"), headers)
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery: %d", first.Code)
	}

	// A retry with the same idempotency token replays the recorded
	// document even when the body would route differently.
	form := voiceForm("call-4")
	form.Set("To", "+15550200")
	second := env.postVoice(t, form, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("second delivery: %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replay must return the recorded outcome:\nfirst:  %s\nsecond: %s",
			first.Body.String(), second.Body.String())
	}
	if strings.Contains(second.Body.String(), "<Number>200</Number>") {
		t.Error("replay must not re-route the call")
	}
}

func TestOversizedReplayKeepsRouteClass(t *testing.T) {
	env := newTestEnv(t)

	// A call-control outcome recorded metadata-only must replay as a
	// document, not a JSON acknowledgment: the platform holds a live leg.
	key := idempotency.Key("voice", env.tenant.ID, "retry-big", nil)
	if err := env.idem.Save(context.Background(), key, idempotency.Record{
		StatusCode:  http.StatusOK,
		ContentType: cxml.ContentType,
		Oversized:   true,
		StoredAt:    time.Now(),
	}); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	w := env.postVoice(t, voiceForm("call-big"), map[string]string{
		"Authorization":      "Bearer " + env.token,
		headerIdempotencyKey: "retry-big",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("content type: %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup>") {
		t.Errorf("expected spoken acknowledgment:\n%s", body)
	}
}

func TestStatusWebhookSignature(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"call_id":"abc","status":"ringing"}`)

	post := func(sig string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/webhooks/status", strings.NewReader(string(body)))
		r.Header.Set("Content-Type", "application/json")
		if sig != "" {
			r.Header.Set(headerSignature, sig)
		}
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, r)
		return w
	}

	w := post(signBody(env.secret, body))
	if w.Code != http.StatusOK {
		t.Errorf("valid signature: got %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var env2 jsonEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env2); err != nil || env2.Status != "ok" {
		t.Errorf("unexpected envelope: %s", w.Body.String())
	}

	w = post(signBody("wrong-secret", body))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: got %d, want 401", w.Code)
	}

	w = post("")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: got %d, want 401", w.Code)
	}
}

func TestCDRWebhook(t *testing.T) {
	env := newTestEnv(t)

	post := func(payload string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/webhooks/cdr", strings.NewReader(payload))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, r)
		return w
	}

	w := post(`{"owner":{"domain":{"uuid":"dom-1"}},"call_id":"abc","direction":"inbound","disposition":"ANSWERED"}`)
	if w.Code != http.StatusOK {
		t.Errorf("known domain: got %d (%s)", w.Code, w.Body.String())
	}
	if got, _ := env.archive.ListRecent(context.Background(), env.tenant.ID, 0); len(got) != 1 {
		t.Errorf("archived %d events, want 1", len(got))
	}

	w = post(`{"owner":{"domain":{"uuid":"dom-unknown"}},"call_id":"abc"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown domain: got %d, want 401", w.Code)
	}
}

func adminJWT(t *testing.T, secretHex string) string {
	t.Helper()
	cfg := &config.Config{AdminHookSecret: secretHex}
	key, err := cfg.AdminHookSecretBytes()
	if err != nil {
		t.Fatalf("decoding secret: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin-layer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing jwt: %v", err)
	}
	return signed
}

func TestInvalidateHook(t *testing.T) {
	env := newTestEnv(t)

	post := func(auth, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/internal/invalidate", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		if auth != "" {
			r.Header.Set("Authorization", "Bearer "+auth)
		}
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, r)
		return w
	}

	body := `{"tenant_id":"` + env.tenant.ID + `","entity":"extension","key":"100"}`

	w := post(adminJWT(t, adminSecretHex), body)
	if w.Code != http.StatusOK {
		t.Errorf("valid jwt: got %d (%s)", w.Code, w.Body.String())
	}

	w = post("not-a-jwt", body)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad jwt: got %d, want 401", w.Code)
	}

	w = post("", body)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing jwt: got %d, want 401", w.Code)
	}

	w = post(adminJWT(t, adminSecretHex), `{"entity":"extension","key":"100"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing tenant: got %d, want 400", w.Code)
	}
}

func TestListCDRs(t *testing.T) {
	env := newTestEnv(t)
	env.archive.Insert(context.Background(), &models.CDREvent{
		TenantID:    env.tenant.ID,
		CallID:      "abc",
		Direction:   "inbound",
		Disposition: "ANSWERED",
		ReceivedAt:  time.Now(),
	})

	get := func(auth string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/internal/cdrs?tenant_id="+env.tenant.ID+"&limit=10", nil)
		if auth != "" {
			r.Header.Set("Authorization", "Bearer "+auth)
		}
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, r)
		return w
	}

	w := get(adminJWT(t, adminSecretHex))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
		Events []struct {
			CallID string `json:"call_id"`
		} `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding listing: %v", err)
	}
	if resp.Status != "ok" || len(resp.Events) != 1 || resp.Events[0].CallID != "abc" {
		t.Errorf("unexpected listing: %s", w.Body.String())
	}

	if w := get(""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing jwt: got %d, want 401", w.Code)
	}

	r := httptest.NewRequest("GET", "/internal/cdrs", nil)
	r.Header.Set("Authorization", "Bearer "+adminJWT(t, adminSecretHex))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing tenant: got %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("got %d, want 200", w.Code)
	}
}
