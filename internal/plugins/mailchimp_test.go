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

func TestMergeFields(t *testing.T) {
	all := map[string]bool{
		"FULLNAME": true, "FNAME": true, "LNAME": true,
		"ADDRESS": true, "PHONE": true,
	}

	fields := mergeFields(map[string]string{"name": "Alice B. Cooper"}, all)
	assert.Equal(t, "Alice B. Cooper", fields["FULLNAME"])
	assert.Equal(t, "Alice", fields["FNAME"])
	assert.Equal(t, "Cooper", fields["LNAME"])

	// explicit keys beat the split name
	fields = mergeFields(map[string]string{
		"name": "Alice Cooper", "_fname": "Alicia", "_lname": "Smith",
		"_address": "1 Main St", "_phone": "555-0100",
	}, all)
	assert.Equal(t, "Alicia", fields["FNAME"])
	assert.Equal(t, "Smith", fields["LNAME"])
	assert.Equal(t, "1 Main St", fields["ADDRESS"])
	assert.Equal(t, "555-0100", fields["PHONE"])

	// only fields the audience declares are filled
	fields = mergeFields(map[string]string{"name": "Alice Cooper"}, map[string]bool{"FNAME": true})
	assert.Equal(t, map[string]string{"FNAME": "Alice"}, fields)

	// _name wins over name
	fields = mergeFields(map[string]string{"_name": "Bob Dole", "name": "x"}, all)
	assert.Equal(t, "Bob", fields["FNAME"])
}

func mailchimpInvocation(apiURL string) *Invocation {
	return &Invocation{
		Form: &model.Form{ID: 1},
		Plugin: &model.Plugin{
			ID: "p", Kind: model.PluginMailchimp, AccessToken: "mc-token",
			PluginData: datatypes.JSONMap{"api_endpoint": apiURL, "list_id": "list9"},
		},
		Submission: &model.Submission{
			SubmittedAt: time.Now().UTC(),
			Data: map[string]string{
				"_replyto": "alice@example.com",
				"name":     "Alice Cooper",
			},
		},
		SortedKeys: []string{"name"},
	}
}

func TestMailchimpPost(t *testing.T) {
	var subscribed map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "anystring", user)
		assert.Equal(t, "mc-token", pass)

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/3.0/lists/list9/merge-fields":
			w.Write([]byte(`{"merge_fields": [{"tag": "FNAME"}, {"tag": "LNAME"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/3.0/lists/list9":
			w.Write([]byte(`{"double_optin": true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/3.0/lists/list9":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&subscribed))
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	a := NewMailchimpAdapter()
	err := a.Post(context.Background(), mailchimpInvocation(server.URL))
	assert.NoError(t, err)

	require.NotNil(t, subscribed)
	assert.Equal(t, true, subscribed["update_existing"])
	members := subscribed["members"].([]interface{})
	require.Len(t, members, 1)
	member := members[0].(map[string]interface{})
	assert.Equal(t, "alice@example.com", member["email_address"])
	// double opt-in audiences get pending subscribers
	assert.Equal(t, "pending", member["status_if_new"])
	merge := member["merge_fields"].(map[string]interface{})
	assert.Equal(t, "Alice", merge["FNAME"])
	assert.Equal(t, "Cooper", merge["LNAME"])
}

func TestMailchimpSkipsWithoutEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made")
	}))
	defer server.Close()

	a := NewMailchimpAdapter()
	inv := mailchimpInvocation(server.URL)
	inv.Submission.Data = map[string]string{"name": "Alice", "_replyto": "not-an-address"}

	// skipped silently, not an error
	assert.NoError(t, a.Post(context.Background(), inv))
}

func TestMailchimpErrorCountsAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	a := NewMailchimpAdapter()
	assert.Error(t, a.Post(context.Background(), mailchimpInvocation(server.URL)))
}
