package plugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"formbridge/internal/model"
)

func slackInvocation(hookURL string) *Invocation {
	return &Invocation{
		Form: &model.Form{ID: 7},
		Plugin: &model.Plugin{
			ID: "p", Kind: model.PluginSlack,
			PluginData: datatypes.JSONMap{
				"team_name": "Acme",
				"incoming_webhook": map[string]interface{}{
					"url":     hookURL,
					"channel": "#forms",
				},
			},
		},
		Submission: &model.Submission{
			SubmittedAt: time.Now().UTC(),
			Data:        map[string]string{"name": "Alice", "message": "hello"},
		},
		SortedKeys: []string{"message", "name"},
	}
}

func TestSlackPost(t *testing.T) {
	var msg slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	a := NewSlackAdapter(fakePages{})
	assert.NoError(t, a.Post(context.Background(), slackInvocation(server.URL)))

	assert.True(t, msg.Mrkdwn)
	require.Len(t, msg.Attachments, 1)
	attachment := msg.Attachments[0]
	assert.Equal(t, "New submission from form form7", attachment.Pretext)
	assert.Equal(t, []string{"text", "pretext"}, attachment.MrkdwnIn)
	assert.Contains(t, attachment.Text, "*message*: hello")
	assert.Contains(t, attachment.Text, "*name*: Alice")
	assert.Contains(t, attachment.Text, "https://formbridge.io/forms/form7/submissions")
	assert.Empty(t, attachment.Title)
}

func TestSlackSubjectTitle(t *testing.T) {
	var msg slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(200)
	}))
	defer server.Close()

	inv := slackInvocation(server.URL)
	inv.Submission.Data["_subject"] = "Support request"

	a := NewSlackAdapter(fakePages{})
	assert.NoError(t, a.Post(context.Background(), inv))
	assert.Equal(t, "Support request", msg.Attachments[0].Title)
}

func TestSlackMissingHook(t *testing.T) {
	a := NewSlackAdapter(fakePages{})
	inv := slackInvocation("")
	inv.Plugin.PluginData = datatypes.JSONMap{}
	assert.Error(t, a.Post(context.Background(), inv))
}
