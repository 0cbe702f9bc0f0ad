package plugins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"formbridge/internal/model"
)

func TestTrelloPost(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		got = r.URL.Query()
		w.Write([]byte(`{"id": "card1"}`))
	}))
	defer server.Close()

	a := NewTrelloAdapter("trello-api-key", fakePages{})
	a.cardsURL = server.URL

	submittedAt := time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC)
	inv := &Invocation{
		Form: &model.Form{ID: 7},
		Plugin: &model.Plugin{
			ID: "p", Kind: model.PluginTrello, AccessToken: "user-token",
			PluginData: datatypes.JSONMap{"board_id": "board1", "list_id": "list1"},
		},
		Submission: &model.Submission{
			SubmittedAt: submittedAt,
			Data:        map[string]string{"name": "Alice", "message": "hello"},
		},
		SortedKeys: []string{"message", "name"},
	}

	assert.NoError(t, a.Post(context.Background(), inv))

	assert.Equal(t, "trello-api-key", got.Get("key"))
	assert.Equal(t, "user-token", got.Get("token"))
	assert.Equal(t, "list1", got.Get("idList"))
	assert.Equal(t, "top", got.Get("pos"))
	assert.Equal(t, "Submission from form form7", got.Get("name"))
	assert.Equal(t, submittedAt.Format(time.RFC3339), got.Get("due"))

	desc := got.Get("desc")
	assert.Contains(t, desc, "Submitted at March 01 2026 03:04:05 PM")
	assert.Contains(t, desc, "__message__: hello")
	assert.Contains(t, desc, "__name__: Alice")
	assert.Contains(t, desc, "https://formbridge.io/forms/form7/submissions")
}

func TestTrelloSubjectOverridesCardName(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.WriteHeader(200)
	}))
	defer server.Close()

	a := NewTrelloAdapter("k", fakePages{})
	a.cardsURL = server.URL

	inv := &Invocation{
		Form:   &model.Form{ID: 7},
		Plugin: &model.Plugin{PluginData: datatypes.JSONMap{"list_id": "list1"}},
		Submission: &model.Submission{
			SubmittedAt: time.Now().UTC(),
			Data:        map[string]string{"_subject": "Urgent request"},
		},
	}
	assert.NoError(t, a.Post(context.Background(), inv))
	assert.Equal(t, "Urgent request", got.Get("name"))
}

func TestTrelloErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer server.Close()

	a := NewTrelloAdapter("k", fakePages{})
	a.cardsURL = server.URL

	inv := &Invocation{
		Form:       &model.Form{ID: 7},
		Plugin:     &model.Plugin{PluginData: datatypes.JSONMap{"list_id": "list1"}},
		Submission: &model.Submission{SubmittedAt: time.Now().UTC(), Data: map[string]string{}},
	}
	assert.Error(t, a.Post(context.Background(), inv))
}
