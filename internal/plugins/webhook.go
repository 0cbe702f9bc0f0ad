package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"formbridge/internal/kv"
	"formbridge/internal/model"
)

const (
	webhookTimeout     = 3 * time.Second
	webhookMaxAttempts = 5
)

// WebhookAdapter posts submissions as JSON to a user-supplied URL.
// Delivery runs in the background: a failed attempt is retried with
// exponentially growing pauses, and only after the last attempt does
// the plugin's failure counter move. Redirects are never followed, so
// a hooked endpoint can't bounce us somewhere else.
type WebhookAdapter struct {
	store  kv.Store
	pages  FormPages
	client *http.Client
	sleep  func(time.Duration)
}

// NewWebhookAdapter creates the webhook adapter
func NewWebhookAdapter(store kv.Store, pages FormPages) *WebhookAdapter {
	return &WebhookAdapter{
		store: store,
		pages: pages,
		client: &http.Client{
			Timeout: webhookTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sleep: time.Sleep,
	}
}

func (a *WebhookAdapter) Kind() model.PluginKind {
	return model.PluginWebhook
}

type webhookPayload struct {
	Form       string            `json:"form"`
	Submission map[string]string `json:"submission"`
	Keys       []string          `json:"keys"`
}

// Post schedules background delivery and returns immediately. Webhook
// failures are never attributed to the submission, only to the
// plugin's failure counter, since by the time the last retry gives up
// the submission has long been finalized.
func (a *WebhookAdapter) Post(ctx context.Context, inv *Invocation) error {
	targetURL := inv.Plugin.DataString("target_url")
	if targetURL == "" {
		return fmt.Errorf("webhook plugin %s has no target_url", inv.Plugin.ID)
	}

	payload := webhookPayload{
		Form:       a.pages.Hashid(inv.Form),
		Submission: make(map[string]string, len(inv.Submission.Data)+1),
		Keys:       inv.SortedKeys,
	}
	for k, v := range inv.Submission.Data {
		payload.Submission[k] = v
	}
	payload.Submission["_date"] = inv.Submission.SubmittedAt.UTC().Format(time.RFC3339)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	go a.deliver(inv.Plugin.ID, targetURL, body)
	return nil
}

// deliver runs the attempt loop. Pauses follow 2^((attempt+1)*4)
// seconds, so the second attempt comes 16s after the first.
func (a *WebhookAdapter) deliver(pluginID, targetURL string, body []byte) {
	for attempt := 0; attempt < webhookMaxAttempts; attempt++ {
		logrus.WithFields(logrus.Fields{
			"url":     targetURL,
			"plugin":  pluginID,
			"attempt": attempt,
		}).Info("Attempting webhook")

		if a.attempt(targetURL, body) == nil {
			return
		}
		if attempt < webhookMaxAttempts-1 {
			a.sleep(time.Duration(1<<uint((attempt+1)*4)) * time.Second)
		}
	}

	n, err := a.store.Incr(context.Background(), failureKey(pluginID))
	if err != nil {
		logrus.WithError(err).WithField("plugin", pluginID).
			Error("Failed to count webhook failure")
		return
	}
	logrus.WithFields(logrus.Fields{"plugin": pluginID, "failures": n}).
		Warn("Webhook delivery gave up")
}

func (a *WebhookAdapter) attempt(targetURL string, body []byte) error {
	resp, err := a.client.Post(targetURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook target returned %d", resp.StatusCode)
	}
	return nil
}

// Probe sends a blank request with an X-Hook-Secret header and
// requires the endpoint to echo it back, proving the target consents
// to receiving this form's submissions.
func (a *WebhookAdapter) Probe(form *model.Form, plugin *model.Plugin) bool {
	targetURL := plugin.DataString("target_url")
	hashid := a.pages.Hashid(form)

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequest(http.MethodPost, targetURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("X-Hook-Secret", hashid)

	resp, err := client.Do(req)
	if err != nil {
		logrus.WithError(err).Debug("Webhook confirmation failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 || resp.Header.Get("X-Hook-Secret") != hashid {
		logrus.Debug("Webhook confirmation failed")
		return false
	}
	return true
}
