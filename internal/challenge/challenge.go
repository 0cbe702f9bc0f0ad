package challenge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"formbridge/internal/config"
	"formbridge/internal/kv"
	"formbridge/internal/model"
	"formbridge/internal/normalize"
)

// ResponseField is the payload field carrying the challenge response
const ResponseField = "g-recaptcha-response"

const nonceTTL = 5 * time.Minute

// Verifier checks a challenge response with the external provider
type Verifier interface {
	Verify(ctx context.Context, responseToken, clientIP string) bool
}

// HTTPVerifier verifies responses against the provider's HTTP API.
// Provider outages degrade to "assume passed" so a third-party
// failure never blocks form owners from receiving mail.
type HTTPVerifier struct {
	cfg    config.CaptchaConfig
	client *http.Client
}

// NewHTTPVerifier creates a verifier with the configured short timeout
func NewHTTPVerifier(cfg config.CaptchaConfig) *HTTPVerifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &HTTPVerifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Verify checks the response token with the provider
func (v *HTTPVerifier) Verify(ctx context.Context, responseToken, clientIP string) bool {
	data := url.Values{}
	data.Set("secret", v.cfg.Secret)
	data.Set("response", responseToken)
	data.Set("remoteip", clientIP)

	resp, err := v.client.PostForm(v.cfg.VerifyURL, data)
	if err != nil {
		// when the provider or we are failing, assume the human is
		// real so the form owner still gets the message
		logrus.WithField("error", err).Warn("Challenge provider unreachable, assuming verified")
		return true
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false
	}
	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Success
}

// Gate decides whether a human challenge must be shown before a
// submission is accepted
type Gate struct {
	verifier            Verifier
	ajaxDisableSequence uint
	testing             bool
}

// NewGate creates a challenge gate. Forms with id at or below
// ajaxDisableSequence predate challenge enforcement on programmatic
// requests and are exempt there.
func NewGate(verifier Verifier, ajaxDisableSequence uint, testing bool) *Gate {
	return &Gate{
		verifier:            verifier,
		ajaxDisableSequence: ajaxDisableSequence,
		testing:             testing,
	}
}

// Required reports whether the submission must round-trip through the
// challenge page before being accepted. hasDashboard is the form's
// dashboard entitlement, resolved by the caller.
func (g *Gate) Required(ctx context.Context, form *model.Form, hasDashboard bool, data map[string]string, clientIP string, wantsJSON bool) bool {
	verified := false
	if token := data[ResponseField]; token != "" {
		verified = g.verifier.Verify(ctx, token, clientIP)
	}

	return !((hasDashboard && form.CaptchaDisabled) ||
		verified ||
		(wantsJSON && form.ID <= g.ajaxDisableSequence) ||
		g.testing)
}

// NonceStore keeps the challenge round-trip state and the
// first-submission cache in the fast key-value store
type NonceStore struct {
	store kv.Store
}

// NewNonceStore creates a nonce store over the given kv store
func NewNonceStore(store kv.Store) *NonceStore {
	return &NonceStore{store: store}
}

type hostnameEntry struct {
	Host     string `json:"host"`
	Referrer string `json:"referrer"`
}

type firstSubmissionEntry struct {
	Data map[string]string `json:"data"`
	Keys []string          `json:"keys"`
}

// StoreHostname saves the submitting host and referrer under a fresh
// single-use nonce while the challenge page round-trips
func (n *NonceStore) StoreHostname(ctx context.Context, host, referrer string) (string, error) {
	nonce := uuid.NewString()
	encoded, err := json.Marshal(hostnameEntry{Host: host, Referrer: referrer})
	if err != nil {
		return "", err
	}
	if err := n.store.Set(ctx, "hostname_"+nonce, string(encoded), nonceTTL); err != nil {
		return "", err
	}
	return nonce, nil
}

// TakeHostname exchanges a nonce back for the stored host and
// referrer and deletes it. ok is false when the nonce is unknown or
// expired.
func (n *NonceStore) TakeHostname(ctx context.Context, nonce string) (string, string, bool, error) {
	value, ok, err := n.store.Get(ctx, "hostname_"+nonce)
	if err != nil || !ok {
		return "", "", false, err
	}
	if err := n.store.Delete(ctx, "hostname_"+nonce); err != nil {
		return "", "", false, err
	}
	var entry hostnameEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return "", "", false, err
	}
	if entry.Host == "" {
		return normalize.ReferrerToPath(entry.Referrer), entry.Referrer, true, nil
	}
	return entry.Host, entry.Referrer, true, nil
}

// StoreFirstSubmission caches the payload that arrived while the form
// was still unconfirmed, to be replayed after confirmation
func (n *NonceStore) StoreFirstSubmission(ctx context.Context, nonce string, data map[string]string, keys []string) error {
	encoded, err := json.Marshal(firstSubmissionEntry{Data: data, Keys: keys})
	if err != nil {
		return err
	}
	return n.store.Set(ctx, "first_"+nonce, string(encoded), nonceTTL)
}

// FetchFirstSubmission retrieves and deletes the cached first
// submission, if any
func (n *NonceStore) FetchFirstSubmission(ctx context.Context, nonce string) (map[string]string, []string, bool) {
	value, ok, err := n.store.Get(ctx, "first_"+nonce)
	if err != nil || !ok {
		return nil, nil, false
	}
	_ = n.store.Delete(ctx, "first_"+nonce)
	var entry firstSubmissionEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return nil, nil, false
	}
	return entry.Data, entry.Keys, true
}
