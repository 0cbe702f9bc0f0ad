package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"formbridge/internal/kv"
	"formbridge/internal/model"
)

var (
	// ErrPluginNotFound means the form has no plugin of that kind.
	ErrPluginNotFound = errors.New("plugin doesn't exist for this form")

	// ErrProbeFailed means the webhook target did not echo the
	// X-Hook-Secret header back.
	ErrProbeFailed = errors.New("confirmation failed: expected the handler to mirror the X-Hook-Secret header")
)

// Manager owns plugin lifecycle: creation, kind-specific setup,
// enable/disable and removal.
type Manager struct {
	db      *gorm.DB
	store   kv.Store
	webhook *WebhookAdapter
}

// NewManager creates the plugin manager
func NewManager(db *gorm.DB, store kv.Store, webhook *WebhookAdapter) *Manager {
	return &Manager{db: db, store: store, webhook: webhook}
}

// ListForForm returns every plugin configured on the form
func (m *Manager) ListForForm(form *model.Form) ([]model.Plugin, error) {
	var plugins []model.Plugin
	if err := m.db.Where("form_id = ?", form.ID).Find(&plugins).Error; err != nil {
		return nil, fmt.Errorf("failed to load plugins for form %d: %w", form.ID, err)
	}
	return plugins, nil
}

// EnabledForForm returns the form's enabled plugins, the set the
// dispatcher fans out to
func (m *Manager) EnabledForForm(formID uint) ([]model.Plugin, error) {
	var plugins []model.Plugin
	err := m.db.Where("form_id = ? AND enabled = ?", formID, true).Find(&plugins).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled plugins for form %d: %w", formID, err)
	}
	return plugins, nil
}

// Get returns the form's plugin of the given kind
func (m *Manager) Get(form *model.Form, kind model.PluginKind) (*model.Plugin, error) {
	var plugin model.Plugin
	err := m.db.Where("form_id = ? AND kind = ?", form.ID, kind).First(&plugin).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrPluginNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin: %w", err)
	}
	return &plugin, nil
}

// CreateWebhook probes the target for consent, then stores the
// plugin enabled.
func (m *Manager) CreateWebhook(form *model.Form, targetURL string) (*model.Plugin, error) {
	logrus.WithFields(logrus.Fields{"form": form.ID, "target_url": targetURL}).
		Debug("Creating webhook plugin")

	plugin := &model.Plugin{
		ID:         uuid.NewString(),
		FormID:     form.ID,
		Kind:       model.PluginWebhook,
		Enabled:    true,
		PluginData: datatypes.JSONMap{"target_url": targetURL},
	}
	if !m.webhook.Probe(form, plugin) {
		return nil, ErrProbeFailed
	}
	if err := m.db.Create(plugin).Error; err != nil {
		return nil, fmt.Errorf("failed to create webhook plugin: %w", err)
	}
	return plugin, nil
}

// CreateTrello stores a disabled Trello plugin holding the user's
// token. It stays disabled until a board and list are chosen.
func (m *Manager) CreateTrello(form *model.Form, token string) (*model.Plugin, error) {
	plugin := &model.Plugin{
		ID:          uuid.NewString(),
		FormID:      form.ID,
		Kind:        model.PluginTrello,
		Enabled:     false,
		AccessToken: token,
	}
	if err := m.db.Create(plugin).Error; err != nil {
		return nil, fmt.Errorf("failed to create trello plugin: %w", err)
	}
	return plugin, nil
}

// SetTrello points the Trello plugin at a board and list and enables
// it
func (m *Manager) SetTrello(form *model.Form, boardID, listID string) error {
	plugin, err := m.Get(form, model.PluginTrello)
	if err != nil {
		return err
	}
	plugin.PluginData = datatypes.JSONMap{"board_id": boardID, "list_id": listID}
	plugin.Enabled = true
	if err := m.db.Save(plugin).Error; err != nil {
		return fmt.Errorf("failed to configure trello plugin: %w", err)
	}
	return nil
}

// SetMailchimp points the Mailchimp plugin at an audience and enables
// it
func (m *Manager) SetMailchimp(form *model.Form, listID string) error {
	plugin, err := m.Get(form, model.PluginMailchimp)
	if err != nil {
		return err
	}
	if plugin.PluginData == nil {
		plugin.PluginData = datatypes.JSONMap{}
	}
	plugin.PluginData["list_id"] = listID
	plugin.Enabled = true
	if err := m.db.Save(plugin).Error; err != nil {
		return fmt.Errorf("failed to configure mailchimp plugin: %w", err)
	}
	return nil
}

// SetEnabled flips the plugin on or off. Re-enabling starts from a
// clean slate: the failure counter is reset either way.
func (m *Manager) SetEnabled(ctx context.Context, form *model.Form, kind model.PluginKind, enabled bool) error {
	plugin, err := m.Get(form, kind)
	if err != nil {
		return err
	}
	plugin.Enabled = enabled
	if err := m.db.Save(plugin).Error; err != nil {
		return fmt.Errorf("failed to update plugin: %w", err)
	}
	if err := m.store.Delete(ctx, failureKey(plugin.ID)); err != nil {
		logrus.WithError(err).WithField("plugin", plugin.ID).
			Warn("Failed to reset plugin failure counter")
	}
	return nil
}

// Delete removes the plugin of the given kind from the form
func (m *Manager) Delete(form *model.Form, kind model.PluginKind) error {
	res := m.db.Where("form_id = ? AND kind = ?", form.ID, kind).Delete(&model.Plugin{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete plugin: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPluginNotFound
	}
	return nil
}

// Serialize renders a plugin for API responses without leaking the
// access token
func Serialize(p *model.Plugin) map[string]interface{} {
	info := map[string]interface{}{}
	if p.PluginData != nil {
		info = map[string]interface{}(p.PluginData)
	}
	return map[string]interface{}{
		"kind":    p.Kind,
		"enabled": p.Enabled,
		"authed":  p.AccessToken != "" || p.Kind == model.PluginWebhook,
		"info":    info,
	}
}
