package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formbridge/internal/model"
	"formbridge/internal/normalize"
)

var nonWordChars = regexp.MustCompile(`[^\w ]`)

// MailchimpAdapter upserts the submitter into a Mailchimp audience,
// filling whatever merge fields the audience defines from the
// submission data. Submissions without a usable email address are
// skipped silently.
type MailchimpAdapter struct {
	client *http.Client
}

// NewMailchimpAdapter creates the Mailchimp adapter
func NewMailchimpAdapter() *MailchimpAdapter {
	return &MailchimpAdapter{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *MailchimpAdapter) Kind() model.PluginKind {
	return model.PluginMailchimp
}

func (a *MailchimpAdapter) Post(ctx context.Context, inv *Invocation) error {
	apiURL := inv.Plugin.DataString("api_endpoint")
	listID := inv.Plugin.DataString("list_id")

	address := inv.Submission.Data["_replyto"]
	if address == "" {
		address = inv.Submission.Data["email"]
	}
	if !normalize.IsValidEmail(address) {
		logrus.Debug("Mailchimp: submission data doesn't contain an email")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"list":   listID,
		"email":  address,
		"plugin": inv.Plugin.ID,
	}).Info("Adding to Mailchimp")

	fieldnames, err := a.mergeFieldNames(ctx, apiURL, listID, inv.Plugin.AccessToken)
	if err != nil {
		return err
	}
	fields := mergeFields(inv.Submission.Data, fieldnames)

	doubleOptin := a.doubleOptin(ctx, apiURL, listID, inv.Plugin.AccessToken)
	status := "subscribed"
	if doubleOptin {
		status = "pending"
	}

	payload := map[string]interface{}{
		"members": []map[string]interface{}{
			{
				"email_address": address,
				"status_if_new": status,
				"merge_fields":  fields,
			},
		},
		"update_existing": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode mailchimp payload: %w", err)
	}

	resp, err := a.do(ctx, http.MethodPost, apiURL+"/3.0/lists/"+listID,
		inv.Plugin.AccessToken, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailchimp request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailchimp returned %d", resp.StatusCode)
	}
	return nil
}

// mergeFields maps submission data onto the audience's declared merge
// fields. A bare name field is split into first and last words, with
// explicit _fname and _lname keys taking precedence.
func mergeFields(data map[string]string, fieldnames map[string]bool) map[string]string {
	fields := make(map[string]string)

	name := data["_name"]
	if name == "" {
		name = data["name"]
	}
	if name != "" {
		if fieldnames["FULLNAME"] {
			fields["FULLNAME"] = name
		}
		parts := strings.Fields(nonWordChars.ReplaceAllString(name, ""))
		if len(parts) > 0 {
			if fieldnames["FNAME"] {
				fields["FNAME"] = parts[0]
			}
			if fieldnames["LNAME"] {
				fields["LNAME"] = parts[len(parts)-1]
			}
		}
	}
	if v, ok := data["_fname"]; ok && fieldnames["FNAME"] {
		fields["FNAME"] = v
	}
	if v, ok := data["_lname"]; ok && fieldnames["LNAME"] {
		fields["LNAME"] = v
	}
	if v, ok := data["_address"]; ok && fieldnames["ADDRESS"] {
		fields["ADDRESS"] = v
	}
	if v, ok := data["_phone"]; ok && fieldnames["PHONE"] {
		fields["PHONE"] = v
	}
	return fields
}

func (a *MailchimpAdapter) mergeFieldNames(ctx context.Context, apiURL, listID, token string) (map[string]bool, error) {
	resp, err := a.do(ctx, http.MethodGet, apiURL+"/3.0/lists/"+listID+"/merge-fields", token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch merge fields: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mailchimp merge-fields returned %d", resp.StatusCode)
	}

	var payload struct {
		MergeFields []struct {
			Tag string `json:"tag"`
		} `json:"merge_fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode merge fields: %w", err)
	}
	names := make(map[string]bool, len(payload.MergeFields))
	for _, f := range payload.MergeFields {
		names[f.Tag] = true
	}
	return names, nil
}

// doubleOptin reports whether the audience requires confirmation
// before subscribing. Lookup failures fall back to immediate
// subscription.
func (a *MailchimpAdapter) doubleOptin(ctx context.Context, apiURL, listID, token string) bool {
	resp, err := a.do(ctx, http.MethodGet, apiURL+"/3.0/lists/"+listID, token, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false
	}
	var payload struct {
		DoubleOptin bool `json:"double_optin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false
	}
	return payload.DoubleOptin
}

func (a *MailchimpAdapter) do(ctx context.Context, method, url, token string, body *bytes.Reader) (*http.Response, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, body)
	}
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth("anystring", token)
	req.Header.Set("Content-Type", "application/json")
	return a.client.Do(req)
}
