package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formbridge/internal/model"
)

// SlackAdapter posts each submission to the workspace's incoming
// webhook as a message attachment
type SlackAdapter struct {
	pages  FormPages
	client *http.Client
}

// NewSlackAdapter creates the Slack adapter
func NewSlackAdapter(pages FormPages) *SlackAdapter {
	return &SlackAdapter{
		pages:  pages,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *SlackAdapter) Kind() model.PluginKind {
	return model.PluginSlack
}

type slackAttachment struct {
	Title    string   `json:"title,omitempty"`
	Pretext  string   `json:"pretext"`
	MrkdwnIn []string `json:"mrkdwn_in"`
	Text     string   `json:"text"`
}

type slackMessage struct {
	Mrkdwn      bool              `json:"mrkdwn"`
	Attachments []slackAttachment `json:"attachments"`
}

func (a *SlackAdapter) Post(ctx context.Context, inv *Invocation) error {
	hook, _ := inv.Plugin.PluginData["incoming_webhook"].(map[string]interface{})
	hookURL, _ := hook["url"].(string)
	if hookURL == "" {
		return fmt.Errorf("slack plugin %s has no incoming webhook url", inv.Plugin.ID)
	}

	logrus.WithFields(logrus.Fields{
		"team":    inv.Plugin.DataString("team_name"),
		"channel": hook["channel"],
		"plugin":  inv.Plugin.ID,
	}).Info("Posting to Slack")

	var text strings.Builder
	for _, k := range inv.SortedKeys {
		fmt.Fprintf(&text, "*%s*: %s\n", k, inv.Submission.Data[k])
	}
	fmt.Fprintf(&text, "\n%s", a.pages.SubmissionsPageURL(inv.Form))

	msg := slackMessage{
		Mrkdwn: true,
		Attachments: []slackAttachment{
			{
				Title: inv.Submission.Data["_subject"],
				Pretext: fmt.Sprintf("New submission from form %s",
					a.pages.Hashid(inv.Form)),
				MrkdwnIn: []string{"text", "pretext"},
				Text:     text.String(),
			},
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
