package plugins

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/config"
	"formbridge/internal/kv"
	"formbridge/internal/mailer"
	"formbridge/internal/metrics"
	"formbridge/internal/model"
	"formbridge/internal/render"
)

// FormPages resolves service URLs and external identifiers for a
// form. Satisfied by the forms service.
type FormPages interface {
	Hashid(form *model.Form) string
	PluginsPageURL(form *model.Form) string
	SubmissionsPageURL(form *model.Form) string
}

// Invocation carries everything an adapter needs to deliver one
// submission to one plugin.
type Invocation struct {
	Form       *model.Form
	Plugin     *model.Plugin
	Submission *model.Submission
	SortedKeys []string
}

// Adapter delivers a submission to one kind of third-party service.
// A returned error counts against the plugin's failure budget and is
// recorded on the submission.
type Adapter interface {
	Kind() model.PluginKind
	Post(ctx context.Context, inv *Invocation) error
}

// Dispatcher fans a submission out to a form's enabled plugins. It
// tracks consecutive failures per plugin and disables a plugin once
// it exceeds the failure budget, notifying the form owner by email.
type Dispatcher struct {
	db       *gorm.DB
	cfg      *config.Config
	store    kv.Store
	sender   mailer.Sender
	renderer *render.TemplateRenderer
	pages    FormPages
	metrics  *metrics.Metrics
	adapters map[model.PluginKind]Adapter
}

// NewDispatcher wires the standard adapter set
func NewDispatcher(db *gorm.DB, cfg *config.Config, store kv.Store, sender mailer.Sender, renderer *render.TemplateRenderer, pages FormPages, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		db:       db,
		cfg:      cfg,
		store:    store,
		sender:   sender,
		renderer: renderer,
		pages:    pages,
		metrics:  m,
		adapters: make(map[model.PluginKind]Adapter),
	}
	d.Register(NewWebhookAdapter(store, pages))
	d.Register(NewSheetsAdapter(pages))
	d.Register(NewTrelloAdapter(cfg.Service.TrelloAPIKey, pages))
	d.Register(NewSlackAdapter(pages))
	d.Register(NewMailchimpAdapter())
	return d
}

// Register installs an adapter, replacing any previous one of the
// same kind
func (d *Dispatcher) Register(a Adapter) {
	d.adapters[a.Kind()] = a
}

func failureKey(pluginID string) string {
	return "plugin-failure:" + pluginID
}

// Failures reads the plugin's current consecutive failure count
func (d *Dispatcher) Failures(ctx context.Context, plugin *model.Plugin) int64 {
	raw, ok, err := d.store.Get(ctx, failureKey(plugin.ID))
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// RecordFailure bumps the plugin's failure counter and records the
// failure on the submission
func (d *Dispatcher) RecordFailure(ctx context.Context, inv *Invocation) {
	n := d.countFailure(ctx, inv.Plugin)
	inv.Submission.AppendError("Failed to dispatch plugin.", string(inv.Plugin.Kind), "", "")
	logrus.WithFields(logrus.Fields{
		"plugin":   inv.Plugin.ID,
		"kind":     inv.Plugin.Kind,
		"failures": n,
	}).Warn("Plugin dispatch failed")
}

func (d *Dispatcher) countFailure(ctx context.Context, plugin *model.Plugin) int64 {
	d.metrics.PluginFailures.WithLabelValues(string(plugin.Kind)).Inc()
	n, err := d.store.Incr(ctx, failureKey(plugin.ID))
	if err != nil {
		logrus.WithError(err).WithField("plugin", plugin.ID).
			Error("Failed to count plugin failure")
	}
	return n
}

// Dispatch delivers the submission to one plugin. If the plugin has
// already exhausted its failure budget it is disabled instead and the
// owner is notified; nothing is sent.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) {
	nfailures := d.Failures(ctx, inv.Plugin)
	if nfailures >= d.cfg.Service.PluginMaxFailures {
		d.disable(ctx, inv, nfailures)
		return
	}

	adapter, ok := d.adapters[inv.Plugin.Kind]
	if !ok {
		logrus.WithField("kind", inv.Plugin.Kind).Error("No adapter for plugin kind")
		return
	}

	logrus.WithFields(logrus.Fields{
		"plugin":   inv.Plugin.ID,
		"kind":     inv.Plugin.Kind,
		"form":     inv.Form.ID,
		"failures": nfailures,
	}).Debug("Dispatching submission to plugin")

	d.metrics.PluginDispatches.WithLabelValues(string(inv.Plugin.Kind)).Inc()
	if err := adapter.Post(ctx, inv); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"plugin": inv.Plugin.ID,
			"kind":   inv.Plugin.Kind,
		}).Warn("Plugin error")
		d.RecordFailure(ctx, inv)
	}
}

// disable turns the plugin off, clears its failure counter and mails
// the form owner
func (d *Dispatcher) disable(ctx context.Context, inv *Invocation, nfailures int64) {
	logrus.WithFields(logrus.Fields{
		"plugin":   inv.Plugin.ID,
		"kind":     inv.Plugin.Kind,
		"form":     inv.Form.ID,
		"failures": nfailures,
	}).Info("Disabling plugin due to an excess of failures")

	if err := d.store.Delete(ctx, failureKey(inv.Plugin.ID)); err != nil {
		logrus.WithError(err).Warn("Failed to clear plugin failure counter")
	}
	err := d.db.Model(&model.Plugin{}).Where("id = ?", inv.Plugin.ID).
		Update("enabled", false).Error
	if err != nil {
		logrus.WithError(err).WithField("plugin", inv.Plugin.ID).
			Error("Failed to disable plugin")
		return
	}
	inv.Plugin.Enabled = false

	renderCtx := map[string]interface{}{
		"plugin_kind":       string(inv.Plugin.Kind),
		"form_name":         d.pages.Hashid(inv.Form),
		"nfailures":         nfailures,
		"form_plugins_link": d.pages.PluginsPageURL(inv.Form),
	}
	text, terr := d.renderer.Render("plugin-disabled.txt", renderCtx)
	html, herr := d.renderer.Render("plugin-disabled.html", renderCtx)
	if terr != nil || herr != nil {
		logrus.WithFields(logrus.Fields{"text": terr, "html": herr}).
			Error("Failed to render plugin disabled notification")
		return
	}
	ok, errmsg, code := d.sender.Send(mailer.Message{
		To:      inv.Form.Email,
		Subject: "Plugin disabled due to delivery failure",
		Text:    text,
		HTML:    html,
		Sender:  d.cfg.Mail.DefaultSender,
	})
	if !ok {
		logrus.WithFields(logrus.Fields{"error": errmsg, "code": code}).
			Error("Failed to send plugin disabled notification")
	}
}

func submissionTitle(form *model.Form, pages FormPages, sub *model.Submission) string {
	if subject, ok := sub.Data["_subject"]; ok && subject != "" {
		return subject
	}
	return fmt.Sprintf("Submission from form %s", pages.Hashid(form))
}
