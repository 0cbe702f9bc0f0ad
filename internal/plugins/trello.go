package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formbridge/internal/model"
)

const (
	trelloCardsURL = "https://api.trello.com/1/cards"
	humanDate      = "January 02 2006 03:04:05 PM"
)

// TrelloAdapter creates a card on a linked Trello list per submission
type TrelloAdapter struct {
	apiKey string
	pages  FormPages
	client *http.Client

	// overridable in tests
	cardsURL string
}

// NewTrelloAdapter creates the Trello adapter
func NewTrelloAdapter(apiKey string, pages FormPages) *TrelloAdapter {
	return &TrelloAdapter{
		apiKey:   apiKey,
		pages:    pages,
		client:   &http.Client{Timeout: 10 * time.Second},
		cardsURL: trelloCardsURL,
	}
}

func (a *TrelloAdapter) Kind() model.PluginKind {
	return model.PluginTrello
}

func (a *TrelloAdapter) Post(ctx context.Context, inv *Invocation) error {
	listID := inv.Plugin.DataString("list_id")
	logrus.WithFields(logrus.Fields{
		"board":  inv.Plugin.DataString("board_id"),
		"list":   listID,
		"plugin": inv.Plugin.ID,
	}).Info("Creating Trello card")

	var desc strings.Builder
	fmt.Fprintf(&desc, "Submitted at %s: \n\n", inv.Submission.SubmittedAt.Format(humanDate))
	for _, k := range inv.SortedKeys {
		fmt.Fprintf(&desc, "__%s__: %s\n", k, inv.Submission.Data[k])
	}
	fmt.Fprintf(&desc, "\n%s", a.pages.SubmissionsPageURL(inv.Form))

	params := url.Values{}
	params.Set("key", a.apiKey)
	params.Set("token", inv.Plugin.AccessToken)
	params.Set("name", submissionTitle(inv.Form, a.pages, inv.Submission))
	params.Set("pos", "top")
	params.Set("desc", desc.String())
	params.Set("due", inv.Submission.SubmittedAt.Format(time.RFC3339))
	params.Set("idList", listID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cardsURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build trello request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("trello request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trello returned %d", resp.StatusCode)
	}
	return nil
}
