package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/config"
	"formbridge/internal/forms"
	"formbridge/internal/mailer"
	"formbridge/internal/metrics"
	"formbridge/internal/model"
	"formbridge/internal/normalize"
	"formbridge/internal/plugins"
	"formbridge/internal/quota"
	"formbridge/internal/render"
	"formbridge/internal/routing"
)

const (
	subjectApproachingLimit = "Notice: Approaching Submission Limit"
	subjectOverLimit        = "Notice: Submission Limit Reached"
	unknownReferrer         = "an unknown webpage"
)

// Processor runs the full post-acceptance pipeline for one
// submission: archive pruning, quota accounting, plugin fan-out,
// recipient resolution and email delivery.
type Processor struct {
	db         *gorm.DB
	cfg        *config.Config
	forms      *forms.Service
	ledger     *quota.Ledger
	dispatcher *plugins.Dispatcher
	manager    *plugins.Manager
	sender     mailer.Sender
	renderer   *render.TemplateRenderer
	metrics    *metrics.Metrics

	// injectable for deterministic tests
	random func() float64
	now    func() time.Time
}

// NewProcessor creates a submission processor
func NewProcessor(db *gorm.DB, cfg *config.Config, formsSvc *forms.Service, ledger *quota.Ledger, dispatcher *plugins.Dispatcher, manager *plugins.Manager, sender mailer.Sender, renderer *render.TemplateRenderer, m *metrics.Metrics) *Processor {
	return &Processor{
		db:         db,
		cfg:        cfg,
		forms:      formsSvc,
		ledger:     ledger,
		dispatcher: dispatcher,
		manager:    manager,
		sender:     sender,
		renderer:   renderer,
		metrics:    m,
		random:     rand.Float64,
		now:        time.Now,
	}
}

// Process loads the submission and runs it through the pipeline,
// then finalizes it: marked processed and saved, or deleted outright
// when the form opted out of storage. Errors recorded along the way
// survive on the stored submission; a deleted submission takes its
// errors with it.
func (p *Processor) Process(ctx context.Context, submissionID uint, keys []string) {
	started := p.now()
	defer func() {
		p.metrics.ProcessingTime.Observe(time.Since(started).Seconds())
	}()

	var sub model.Submission
	if err := p.db.First(&sub, submissionID).Error; err != nil {
		logrus.WithFields(logrus.Fields{"sub": submissionID, "error": err}).
			Warn("Submission not found")
		return
	}
	var form model.Form
	if err := p.db.First(&form, sub.FormID).Error; err != nil {
		logrus.WithFields(logrus.Fields{"sub": submissionID, "form": sub.FormID}).
			Error("Submission references missing form")
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				sub.AppendError("Unexpected Error, please contact support", "", "",
					fmt.Sprintf("%v\n%s", r, debug.Stack()))
				logrus.WithFields(logrus.Fields{"sub": sub.ID, "panic": r}).
					Error("Panic while processing submission")
			}
		}()
		p.process(ctx, &form, &sub, keys)
		sub.Status = model.SubmissionProcessed
	}()

	if p.forms.HasFeature(&form, model.FeatureDashboard) && form.DisableStorage {
		if err := p.db.Delete(&sub).Error; err != nil {
			logrus.WithError(err).WithField("sub", sub.ID).
				Error("Failed to delete unstored submission")
		}
		return
	}
	if err := p.db.Save(&sub).Error; err != nil {
		logrus.WithError(err).WithField("sub", sub.ID).
			Error("Failed to finalize submission")
	}
}

func (p *Processor) process(ctx context.Context, form *model.Form, sub *model.Submission, keys []string) {
	unconfirmURL := p.forms.UnconfirmURL(form)
	spamURL := p.forms.SpamURL(sub)

	if !p.forms.HasFeature(form, model.FeatureArchive) &&
		p.random() < p.cfg.Service.WipeFrequency {
		if err := p.forms.DeleteOverArchiveLimit(form); err != nil {
			logrus.WithError(err).WithField("form", form.ID).
				Warn("Archive pruning failed")
		}
	}

	if p.checkOverSubmissionLimit(ctx, form, sub, unconfirmURL) {
		sub.AppendError("Over submission limit", "", "", "")
		p.metrics.OverQuota.Inc()
		return
	}

	p.dispatchPlugins(ctx, form, sub, keys)

	// recipients: forms with routing rules use only the rule results,
	// everything else goes to the form's own address
	var recipients []routing.Recipient
	rules, err := p.forms.Rules(form)
	if err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("Failed to load routing rules")
	}
	if p.forms.HasFeature(form, model.FeatureSubmissionRouting) && len(rules) > 0 {
		recipients = routing.Evaluate(rules, sub)
		logrus.WithFields(logrus.Fields{"form": form.ID, "n": len(recipients)}).
			Info("Got recipients from route matching")
	} else {
		if p.forms.HasFeature(form, model.FeatureDashboard) && form.DisableEmail {
			logrus.WithField("form", form.ID).Info("Form has email disabled, will not send")
			return
		}
		recipients = []routing.Recipient{{Email: form.Email}}
	}

	msg, err := p.composeEmail(form, sub, keys, unconfirmURL, spamURL)
	if err != nil {
		sub.AppendError("Could not render email", "", "", err.Error())
		return
	}

	listUnsubscribe := map[string]string{
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		"List-Unsubscribe":      "<" + unconfirmURL + ">",
	}
	for _, recipient := range recipients {
		logrus.WithFields(logrus.Fields{"form": form.ID, "target": recipient.Email}).
			Info("Submitting")
		out := msg
		out.To = recipient.Email
		out.Headers = listUnsubscribe
		ok, reason, code := p.sender.Send(out)
		if !ok {
			logrus.WithFields(logrus.Fields{"reason": reason, "code": code}).
				Warn("Failed to send email")
			p.metrics.EmailFailures.Inc()
			sub.AppendError("Could not send email", "", recipient.RuleID,
				fmt.Sprintf("code %d: %s", code, reason))
			continue
		}
		p.metrics.EmailSuccesses.Inc()
	}
}

// checkOverSubmissionLimit moves both counters and reports whether
// the submission landed past the monthly limit. Warning and overlimit
// notification emails go out at the edges: one warning at 90% of the
// limit, and one notification per overlimit submission for the first
// few, after which the form's owner has been told enough times.
func (p *Processor) checkOverSubmissionLimit(ctx context.Context, form *model.Form, sub *model.Submission, unconfirmURL string) bool {
	monthly, err := p.ledger.Increment(ctx, form.ID)
	if err != nil {
		logrus.WithError(err).WithField("form", form.ID).
			Error("Failed to update monthly counter")
	}
	if err := p.forms.IncrementCounter(form); err != nil {
		logrus.WithError(err).WithField("form", form.ID).
			Error("Failed to update lifetime counter")
	}

	limit := p.ledger.LimitFor(form.ID)
	unlimited := p.forms.HasFeature(form, model.FeatureUnlimited)
	overlimit := monthly > limit && !unlimited

	if overlimit {
		logrus.WithFields(logrus.Fields{"form": form.ID, "monthly_counter": monthly}).
			Info("Form over limit")
	}

	if monthly == int64(float64(limit)*0.9) && !unlimited {
		p.sendLimitNotice(form, subjectApproachingLimit, "approaching-limit", map[string]interface{}{
			"unconfirm_url": unconfirmURL,
			"limit":         limit,
		})
	}

	if overlimit && monthly <= limit+p.cfg.Service.OverlimitNotifications {
		p.sendLimitNotice(form, subjectOverLimit, "overlimit", map[string]interface{}{
			"host":          hostPath(sub),
			"unconfirm_url": unconfirmURL,
			"limit":         limit,
		})
	}

	return overlimit
}

func (p *Processor) sendLimitNotice(form *model.Form, subject, template string, ctx map[string]interface{}) {
	text, terr := p.renderer.Render(template+".txt", ctx)
	html, herr := p.renderer.Render(template+".html", ctx)
	if terr != nil || herr != nil {
		logrus.WithFields(logrus.Fields{"text": terr, "html": herr}).
			Error("Failed to render limit notice")
		return
	}
	ok, reason, code := p.sender.Send(mailer.Message{
		To:      form.Email,
		Subject: subject,
		Text:    text,
		HTML:    html,
		Sender:  p.cfg.Mail.DefaultSender,
	})
	if !ok {
		logrus.WithFields(logrus.Fields{"reason": reason, "code": code}).
			Warn("Failed to send limit notice")
	}
}

// dispatchPlugins fans out to every enabled plugin. A panicking
// plugin is recorded on the submission and never interferes with the
// other plugins or with email delivery.
func (p *Processor) dispatchPlugins(ctx context.Context, form *model.Form, sub *model.Submission, keys []string) {
	enabled, err := p.manager.EnabledForForm(form.ID)
	if err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("Failed to load plugins")
		return
	}
	for i := range enabled {
		plugin := &enabled[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithFields(logrus.Fields{
						"submission": sub.ID,
						"kind":       plugin.Kind,
						"panic":      r,
					}).Error("Unknown exception in plugin dispatch")
					sub.AppendError(
						"Unknown exception in plugin dispatch. Please contact support.",
						string(plugin.Kind), "",
						fmt.Sprintf("%v\n%s", r, debug.Stack()))
				}
			}()
			p.dispatcher.Dispatch(ctx, &plugins.Invocation{
				Form:       form,
				Plugin:     plugin,
				Submission: sub,
				SortedKeys: keys,
			})
		}()
	}
}

// composeEmail builds the notification message minus its recipient
func (p *Processor) composeEmail(form *model.Form, sub *model.Submission, keys []string, unconfirmURL, spamURL string) (mailer.Message, error) {
	replyTo := forms.GetReplyTo(sub.Data)
	subject := sub.Data["_subject"]
	if subject == "" {
		subject = hostPath(sub)
	}

	var cc []string
	if raw := sub.Data["_cc"]; raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			cc = append(cc, strings.TrimSpace(addr))
		}
	}

	now := p.now().UTC().Format("03:04 PM UTC - 02 January 2006")
	baseCtx := map[string]interface{}{
		"data":          sub.Data,
		"host":          hostPath(sub),
		"keys":          keys,
		"now":           now,
		"unconfirm_url": unconfirmURL,
	}

	text, err := p.renderer.Render("form.txt", baseCtx)
	if err != nil {
		return mailer.Message{}, err
	}

	whitelabel := p.forms.HasFeature(form, model.FeatureWhitelabel)
	var template *model.EmailTemplate
	if whitelabel {
		var t model.EmailTemplate
		err := p.db.Where("form_id = ?", form.ID).First(&t).Error
		if err == nil {
			template = &t
		} else if err != gorm.ErrRecordNotFound {
			return mailer.Message{}, fmt.Errorf("failed to load email template: %w", err)
		}
	}
	mustacheCtx := render.MustacheContext(sub.Data, hostPath(sub), keys, now, unconfirmURL)

	var html string
	switch {
	case template != nil && template.Body != "":
		html, err = render.CustomBody(template, mustacheCtx, unconfirmURL)
	case sub.Data["_format"] == "plain":
		html, err = p.renderer.Render("plain_form.html", baseCtx)
	default:
		ctx := map[string]interface{}{
			"data":             sub.Data,
			"host":             hostPath(sub),
			"keys":             keys,
			"now":              now,
			"unconfirm_url":    unconfirmURL,
			"submission_count": form.Counter,
			"upgraded":         p.forms.HasFeature(form, model.FeatureDashboard),
			"spam_url":         spamURL,
		}
		html, err = p.renderer.Render("form.html", ctx)
	}
	if err != nil {
		return mailer.Message{}, err
	}

	fromName := ""
	if template != nil {
		if template.Subject != "" {
			rendered, err := render.CustomSubject(template, mustacheCtx)
			if err != nil {
				return mailer.Message{}, err
			}
			subject = rendered
		}
		fromName = template.FromName
	}

	return mailer.Message{
		Subject:  subject,
		Text:     text,
		HTML:     html,
		Sender:   p.cfg.Mail.DefaultSender,
		FromName: fromName,
		ReplyTo:  replyTo,
		CC:       cc,
	}, nil
}

func hostPath(sub *model.Submission) string {
	if sub.Host == "" {
		return unknownReferrer
	}
	return normalize.ReferrerToPath(sub.Host)
}
