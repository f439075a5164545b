package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

type fakeTenants struct {
	byID     map[string]*models.Tenant
	byDomain map[string]*models.Tenant
}

func (f *fakeTenants) GetByID(_ context.Context, id string) (*models.Tenant, error) {
	return f.byID[id], nil
}
func (f *fakeTenants) GetByDomainUUID(_ context.Context, uuid string) (*models.Tenant, error) {
	return f.byDomain[uuid], nil
}
func (f *fakeTenants) Create(context.Context, *models.Tenant) error { return nil }

type fakeCredentials struct {
	byTenant map[string]*models.WebhookCredential
}

func (f *fakeCredentials) GetByTenant(_ context.Context, tenantID string) (*models.WebhookCredential, error) {
	return f.byTenant[tenantID], nil
}
func (f *fakeCredentials) Upsert(context.Context, *models.WebhookCredential) error { return nil }

type fakeDids struct {
	byNumber map[string]*models.DidNumber
}

func (f *fakeDids) GetByNumber(_ context.Context, number string) (*models.DidNumber, error) {
	return f.byNumber[number], nil
}
func (f *fakeDids) GetForTenant(_ context.Context, tenantID, number string) (*models.DidNumber, error) {
	d := f.byNumber[number]
	if d == nil || d.TenantID != tenantID {
		return nil, nil
	}
	return d, nil
}
func (f *fakeDids) Create(context.Context, *models.DidNumber) error { return nil }
func (f *fakeDids) UpdateRouting(context.Context, string, int64, string, string) error {
	return nil
}

func newTestAuthenticator(t *testing.T, secret string, tolerance time.Duration, allow []*net.IPNet) (*Authenticator, string) {
	t.Helper()

	token := "wh_secret_token_0123456789"
	hash, err := database.HashToken(token)
	if err != nil {
		t.Fatalf("hashing token: %v", err)
	}

	tenants := &fakeTenants{
		byID:     map[string]*models.Tenant{"t1": {ID: "t1", DomainUUID: "dom-1"}},
		byDomain: map[string]*models.Tenant{"dom-1": {ID: "t1", DomainUUID: "dom-1"}},
	}
	creds := &fakeCredentials{byTenant: map[string]*models.WebhookCredential{
		"t1": {TenantID: "t1", TokenHash: hash},
	}}
	dids := &fakeDids{byNumber: map[string]*models.DidNumber{
		"+15550100": {TenantID: "t1", Number: "+15550100", Active: true},
	}}

	return NewAuthenticator(tenants, creds, dids, secret, tolerance, allow), token
}

func TestTenantForCall(t *testing.T) {
	a, _ := newTestAuthenticator(t, "", 0, nil)
	ctx := context.Background()

	tenant, err := a.TenantForCall(ctx, "", "+15550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant.ID != "t1" {
		t.Errorf("got tenant %s, want t1", tenant.ID)
	}

	tenant, err = a.TenantForCall(ctx, "dom-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant.ID != "t1" {
		t.Errorf("got tenant %s, want t1", tenant.ID)
	}

	if _, err = a.TenantForCall(ctx, "", "+19998887777"); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("unknown number: got %v, want KindUnauthorized", err)
	}
}

func TestVerifyBearer(t *testing.T) {
	a, token := newTestAuthenticator(t, "", 0, nil)
	ctx := context.Background()

	r := httptest.NewRequest("POST", "/webhooks/voice", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if err := a.VerifyBearer(ctx, r, "t1"); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}

	r.Header.Set("Authorization", "Bearer wrong-token")
	if err := a.VerifyBearer(ctx, r, "t1"); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("wrong token: got %v, want KindUnauthorized", err)
	}

	r.Header.Del("Authorization")
	if err := a.VerifyBearer(ctx, r, "t1"); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("missing header: got %v, want KindUnauthorized", err)
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	const secret = "cx-shared-secret"
	a, _ := newTestAuthenticator(t, secret, 5*time.Minute, nil)
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	a.nowFunc = func() time.Time { return now }

	body := []byte(`{"call_id":"abc","status":"ringing"}`)

	r := httptest.NewRequest("POST", "/webhooks/status", nil)
	r.Header.Set(headerSignature, signBody(secret, body))
	if err := a.VerifySignature(r, body); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	// Any flipped byte in the body must invalidate the signature.
	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0x01
	if err := a.VerifySignature(r, tampered); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("tampered body: got %v, want KindUnauthorized", err)
	}

	r.Header.Set(headerSignature, "not-hex")
	if err := a.VerifySignature(r, body); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("malformed header: got %v, want KindUnauthorized", err)
	}

	r.Header.Del(headerSignature)
	if err := a.VerifySignature(r, body); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("missing header: got %v, want KindUnauthorized", err)
	}
}

func TestVerifySignatureTimestampWindow(t *testing.T) {
	const secret = "cx-shared-secret"
	a, _ := newTestAuthenticator(t, secret, 5*time.Minute, nil)
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	a.nowFunc = func() time.Time { return now }

	body := []byte(`{"call_id":"abc"}`)
	sig := signBody(secret, body)

	tests := []struct {
		name string
		ts   time.Time
		want routing.ErrorKind
	}{
		{"inside window", now.Add(-2 * time.Minute), ""},
		{"boundary", now.Add(-5 * time.Minute), ""},
		{"too old", now.Add(-6 * time.Minute), routing.KindStaleRequest},
		{"future skew", now.Add(6 * time.Minute), routing.KindStaleRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/webhooks/status", nil)
			r.Header.Set(headerSignature, sig)
			r.Header.Set(headerTimestamp, fmt.Sprint(tt.ts.Unix()))
			err := a.VerifySignature(r, body)
			if routing.KindOf(err) != tt.want {
				t.Errorf("got %v, want kind %q", err, tt.want)
			}
		})
	}
}

func TestCheckSourceIP(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("203.0.113.0/24")
	a, _ := newTestAuthenticator(t, "", 0, []*net.IPNet{cidr})

	if err := a.CheckSourceIP("203.0.113.7:40122"); err != nil {
		t.Errorf("allowlisted address rejected: %v", err)
	}
	if err := a.CheckSourceIP("198.51.100.9:40122"); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("outside allowlist: got %v, want KindUnauthorized", err)
	}

	// Empty allowlist admits everyone.
	open, _ := newTestAuthenticator(t, "", 0, nil)
	if err := open.CheckSourceIP("198.51.100.9:40122"); err != nil {
		t.Errorf("open authenticator rejected: %v", err)
	}
}

func TestTenantForCDR(t *testing.T) {
	a, _ := newTestAuthenticator(t, "", 0, nil)
	ctx := context.Background()

	tenant, err := a.TenantForCDR(ctx, "dom-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant.ID != "t1" {
		t.Errorf("got tenant %s, want t1", tenant.ID)
	}

	if _, err := a.TenantForCDR(ctx, "dom-unknown"); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("unknown domain: got %v, want KindUnauthorized", err)
	}
	if _, err := a.TenantForCDR(ctx, ""); routing.KindOf(err) != routing.KindUnauthorized {
		t.Errorf("missing domain: got %v, want KindUnauthorized", err)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)

	r.Header.Set("Authorization", "Bearer abc123")
	if tok, ok := bearerToken(r); !ok || tok != "abc123" {
		t.Errorf("got %q ok=%v", tok, ok)
	}

	r.Header.Set("Authorization", "bearer lower")
	if tok, ok := bearerToken(r); !ok || tok != "lower" {
		t.Errorf("case-insensitive scheme: got %q ok=%v", tok, ok)
	}

	r.Header.Set("Authorization", "Basic "+strings.Repeat("x", 10))
	if _, ok := bearerToken(r); ok {
		t.Error("basic auth must not parse as bearer")
	}
}
