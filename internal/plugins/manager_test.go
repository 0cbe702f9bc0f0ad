package plugins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"formbridge/internal/kv"
	"formbridge/internal/model"
)

func newTestManager(t *testing.T) (*Manager, kv.Store, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	store := kv.NewMemoryStore()
	return NewManager(db, store, NewWebhookAdapter(store, fakePages{})), store, db
}

func managerForm(t *testing.T, db *gorm.DB) *model.Form {
	t.Helper()
	form := &model.Form{Email: "bob@example.com", Confirmed: true}
	require.NoError(t, db.Create(form).Error)
	return form
}

func TestManagerCreateWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Hook-Secret", r.Header.Get("X-Hook-Secret"))
	}))
	defer server.Close()

	m, _, db := newTestManager(t)
	form := managerForm(t, db)

	plugin, err := m.CreateWebhook(form, server.URL)
	assert.NoError(t, err)
	assert.True(t, plugin.Enabled)
	assert.Equal(t, server.URL, plugin.DataString("target_url"))

	enabled, err := m.EnabledForForm(form.ID)
	assert.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestManagerCreateWebhookProbeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200) // never echoes the secret
	}))
	defer server.Close()

	m, _, db := newTestManager(t)
	form := managerForm(t, db)

	_, err := m.CreateWebhook(form, server.URL)
	assert.ErrorIs(t, err, ErrProbeFailed)

	// nothing was stored
	plugins, err := m.ListForForm(form)
	assert.NoError(t, err)
	assert.Empty(t, plugins)
}

func TestManagerTrelloLifecycle(t *testing.T) {
	m, _, db := newTestManager(t)
	form := managerForm(t, db)

	// created disabled, holding the token
	plugin, err := m.CreateTrello(form, "user-token")
	assert.NoError(t, err)
	assert.False(t, plugin.Enabled)

	enabled, _ := m.EnabledForForm(form.ID)
	assert.Empty(t, enabled)

	// picking a board and list enables it
	assert.NoError(t, m.SetTrello(form, "board1", "list1"))
	stored, err := m.Get(form, model.PluginTrello)
	assert.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Equal(t, "board1", stored.DataString("board_id"))
	assert.Equal(t, "list1", stored.DataString("list_id"))
	assert.Equal(t, "user-token", stored.AccessToken)
}

func TestManagerSetMailchimp(t *testing.T) {
	m, _, db := newTestManager(t)
	form := managerForm(t, db)

	assert.ErrorIs(t, m.SetMailchimp(form, "list9"), ErrPluginNotFound)

	plugin := &model.Plugin{
		ID: "mc", FormID: form.ID, Kind: model.PluginMailchimp, AccessToken: "tok",
	}
	require.NoError(t, db.Create(plugin).Error)

	assert.NoError(t, m.SetMailchimp(form, "list9"))
	stored, err := m.Get(form, model.PluginMailchimp)
	assert.NoError(t, err)
	assert.True(t, stored.Enabled)
	assert.Equal(t, "list9", stored.DataString("list_id"))
}

func TestManagerSetEnabledResetsFailures(t *testing.T) {
	ctx := context.Background()
	m, store, db := newTestManager(t)
	form := managerForm(t, db)

	plugin := &model.Plugin{
		ID: "sl", FormID: form.ID, Kind: model.PluginSlack, Enabled: false,
	}
	require.NoError(t, db.Create(plugin).Error)
	_, err := store.Incr(ctx, failureKey("sl"))
	require.NoError(t, err)

	assert.NoError(t, m.SetEnabled(ctx, form, model.PluginSlack, true))

	stored, _ := m.Get(form, model.PluginSlack)
	assert.True(t, stored.Enabled)
	_, ok, _ := store.Get(ctx, failureKey("sl"))
	assert.False(t, ok)
}

func TestManagerDelete(t *testing.T) {
	m, _, db := newTestManager(t)
	form := managerForm(t, db)

	plugin := &model.Plugin{ID: "sl", FormID: form.ID, Kind: model.PluginSlack}
	require.NoError(t, db.Create(plugin).Error)

	assert.NoError(t, m.Delete(form, model.PluginSlack))
	assert.ErrorIs(t, m.Delete(form, model.PluginSlack), ErrPluginNotFound)
	_, err := m.Get(form, model.PluginSlack)
	assert.ErrorIs(t, err, ErrPluginNotFound)
}
