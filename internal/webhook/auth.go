package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

// Signature headers sent by the platform.
const (
	headerSignature = "X-Cloudonix-Signature"
	headerTimestamp = "X-Cloudonix-Timestamp"
)

// Authenticator implements the webhook authentication strategies: bearer
// tokens on the call-control path, HMAC signatures on the asynchronous
// path, and payload-derived tenancy on the CDR path. Failures carry the
// Unauthorized or StaleRequest kind; the caller decides the surface.
type Authenticator struct {
	tenants     database.TenantRepository
	credentials database.CredentialRepository
	dids        database.DidNumberRepository

	secret      []byte // process-wide HMAC secret; empty disables signature auth
	tolerance   time.Duration
	allowedNets []*net.IPNet

	nowFunc func() time.Time
}

// NewAuthenticator creates the authenticator. allowedNets may be nil to
// accept webhooks from any source address.
func NewAuthenticator(
	tenants database.TenantRepository,
	credentials database.CredentialRepository,
	dids database.DidNumberRepository,
	secret string,
	tolerance time.Duration,
	allowedNets []*net.IPNet,
) *Authenticator {
	return &Authenticator{
		tenants:     tenants,
		credentials: credentials,
		dids:        dids,
		secret:      []byte(secret),
		tolerance:   tolerance,
		allowedNets: allowedNets,
		nowFunc:     time.Now,
	}
}

// CheckSourceIP enforces the optional delivery allowlist. remoteAddr is the
// host:port form from the request.
func (a *Authenticator) CheckSourceIP(remoteAddr string) error {
	if len(a.allowedNets) == 0 {
		return nil
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return routing.Errf(routing.KindUnauthorized, "unparseable source address")
	}
	for _, n := range a.allowedNets {
		if n.Contains(ip) {
			return nil
		}
	}
	return routing.Errf(routing.KindUnauthorized, "source address not allowlisted")
}

// TenantForCall resolves the tenant a call-control webhook belongs to.
// Tenancy is implied by request content: the platform domain identifier
// when present, otherwise the dialed number. The DID lookup here is the
// single deliberately unscoped query in the system.
func (a *Authenticator) TenantForCall(ctx context.Context, domainUUID, dialed string) (*models.Tenant, error) {
	if domainUUID != "" {
		t, err := a.tenants.GetByDomainUUID(ctx, domainUUID)
		if err != nil {
			return nil, fmt.Errorf("resolving tenant by domain: %w", err)
		}
		if t == nil {
			return nil, routing.Errf(routing.KindUnauthorized, "unknown domain")
		}
		return t, nil
	}

	did, err := a.dids.GetByNumber(ctx, dialed)
	if err != nil {
		return nil, fmt.Errorf("resolving tenant by dialed number: %w", err)
	}
	if did == nil {
		return nil, routing.Errf(routing.KindUnauthorized, "unknown dialed number")
	}
	t, err := a.tenants.GetByID(ctx, did.TenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant: %w", err)
	}
	if t == nil {
		return nil, routing.Errf(routing.KindUnauthorized, "dangling tenant reference")
	}
	return t, nil
}

// VerifyBearer checks the Authorization bearer token against the tenant's
// stored credential. Token comparison is constant-time inside VerifyToken.
func (a *Authenticator) VerifyBearer(ctx context.Context, r *http.Request, tenantID string) error {
	token, ok := bearerToken(r)
	if !ok {
		return routing.Errf(routing.KindUnauthorized, "missing bearer token")
	}

	cred, err := a.credentials.GetByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading webhook credential: %w", err)
	}
	if cred == nil {
		return routing.Errf(routing.KindUnauthorized, "tenant has no webhook credential")
	}

	ok, err = database.VerifyToken(token, cred.TokenHash)
	if err != nil {
		return fmt.Errorf("verifying bearer token: %w", err)
	}
	if !ok {
		return routing.Errf(routing.KindUnauthorized, "bearer token mismatch")
	}
	return nil
}

// VerifySignature checks the HMAC-SHA256 signature over the raw request
// body and, when a timestamp header is present, that the delivery falls
// inside the tolerance window.
func (a *Authenticator) VerifySignature(r *http.Request, rawBody []byte) error {
	if len(a.secret) == 0 {
		return routing.Errf(routing.KindUnauthorized, "signature auth not configured")
	}

	sigHex := r.Header.Get(headerSignature)
	if sigHex == "" {
		return routing.Errf(routing.KindUnauthorized, "missing signature header")
	}
	presented, err := hex.DecodeString(sigHex)
	if err != nil {
		return routing.Errf(routing.KindUnauthorized, "malformed signature header")
	}

	if ts := r.Header.Get(headerTimestamp); ts != "" && a.tolerance > 0 {
		if err := a.checkTimestamp(ts); err != nil {
			return err
		}
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(rawBody)
	if !hmac.Equal(presented, mac.Sum(nil)) {
		return routing.Errf(routing.KindUnauthorized, "signature mismatch")
	}
	return nil
}

// checkTimestamp validates a unix-seconds timestamp against the tolerance.
func (a *Authenticator) checkTimestamp(ts string) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return routing.Errf(routing.KindUnauthorized, "malformed timestamp header")
	}
	skew := a.nowFunc().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.tolerance {
		return routing.Errf(routing.KindStaleRequest, "timestamp outside tolerance window")
	}
	return nil
}

// TenantForCDR resolves the tenant a CDR delivery belongs to from the
// owner domain identifier carried in the payload. CDR deliveries carry no
// signature; an unknown domain rejects the delivery.
func (a *Authenticator) TenantForCDR(ctx context.Context, domainUUID string) (*models.Tenant, error) {
	if domainUUID == "" {
		return nil, routing.Errf(routing.KindUnauthorized, "missing owner domain")
	}
	t, err := a.tenants.GetByDomainUUID(ctx, domainUUID)
	if err != nil {
		return nil, fmt.Errorf("resolving cdr tenant: %w", err)
	}
	if t == nil {
		return nil, routing.Errf(routing.KindUnauthorized, "unknown owner domain")
	}
	return t, nil
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}
