package forms

import (
	"fmt"
	"net/url"

	"gorm.io/gorm"

	"formbridge/internal/challenge"
	"formbridge/internal/config"
	"formbridge/internal/hashid"
	"formbridge/internal/mailer"
	"formbridge/internal/metrics"
	"formbridge/internal/model"
	"formbridge/internal/normalize"
	"formbridge/internal/render"
)

// Enqueuer hands accepted submissions to the asynchronous processing
// worker. Implemented by the dispatch worker pool.
type Enqueuer interface {
	Enqueue(submissionID uint, keys []string)
}

// Service owns form identity, acceptance, confirmation and bulk
// submission operations
type Service struct {
	db       *gorm.DB
	cfg      *config.Config
	codec    *hashid.Codec
	nonces   *challenge.NonceStore
	sender   mailer.Sender
	renderer *render.TemplateRenderer
	queue    Enqueuer
	metrics  *metrics.Metrics
}

// NewService creates the form service
func NewService(db *gorm.DB, cfg *config.Config, codec *hashid.Codec, nonces *challenge.NonceStore, sender mailer.Sender, renderer *render.TemplateRenderer, queue Enqueuer, m *metrics.Metrics) *Service {
	return &Service{
		db:       db,
		cfg:      cfg,
		codec:    codec,
		nonces:   nonces,
		sender:   sender,
		renderer: renderer,
		queue:    queue,
		metrics:  m,
	}
}

// DB exposes the underlying handle for collaborators constructed
// alongside the service
func (s *Service) DB() *gorm.DB {
	return s.db
}

// SetQueue installs the processing queue. The worker is built after
// the service because it processes through it, so the queue arrives
// late.
func (s *Service) SetQueue(queue Enqueuer) {
	s.queue = queue
}

// Hashid returns the form's external identifier
func (s *Service) Hashid(form *model.Form) string {
	id, err := s.codec.Encode(form.ID)
	if err != nil {
		return ""
	}
	return id
}

// Controllers returns every account controlling the form: the direct
// creator plus any account with a verified address matching the
// form's normalized email. Computed at read time, never stored, so it
// can't go stale.
func (s *Service) Controllers(form *model.Form) ([]model.Account, error) {
	var accounts []model.Account

	err := s.db.
		Distinct("accounts.*").
		Table("accounts").
		Joins("JOIN verified_emails ON verified_emails.account_id = accounts.id").
		Where("verified_emails.address = ?", normalize.Email(form.Email)).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query controllers by email: %w", err)
	}

	if form.OwnerID != nil {
		already := false
		for _, a := range accounts {
			if a.ID == *form.OwnerID {
				already = true
				break
			}
		}
		if !already {
			var owner model.Account
			err := s.db.First(&owner, *form.OwnerID).Error
			if err == nil {
				accounts = append(accounts, owner)
			} else if err != gorm.ErrRecordNotFound {
				return nil, fmt.Errorf("failed to query form owner: %w", err)
			}
		}
	}

	return accounts, nil
}

// Features resolves the form's entitlements as the union over all
// controlling accounts' plans
func (s *Service) Features(form *model.Form) (map[string]bool, error) {
	controllers, err := s.Controllers(form)
	if err != nil {
		return nil, err
	}
	features := make(map[string]bool)
	for _, account := range controllers {
		for _, f := range model.PlanFeatures(account.Plan) {
			features[f] = true
		}
	}
	return features, nil
}

// HasFeature reports whether any controlling account grants a feature
func (s *Service) HasFeature(form *model.Form, feature string) bool {
	features, err := s.Features(form)
	if err != nil {
		return false
	}
	return features[feature]
}

// ControlledBy reports whether the account controls the form
func (s *Service) ControlledBy(form *model.Form, accountID uint) bool {
	controllers, err := s.Controllers(form)
	if err != nil {
		return false
	}
	for _, a := range controllers {
		if a.ID == accountID {
			return true
		}
	}
	return false
}

// service URL helpers ------------------------------------------------

// ConfirmURL is the link mailed out to activate a spontaneous form
func (s *Service) ConfirmURL(nonce string) string {
	return fmt.Sprintf("%s/confirm/%s", s.cfg.Service.URL, nonce)
}

// UnconfirmURL is the authenticated one-click unsubscribe link
func (s *Service) UnconfirmURL(form *model.Form) string {
	return fmt.Sprintf("%s/unconfirm/%d/%s", s.cfg.Service.URL, form.ID,
		form.UnconfirmDigest([]byte(s.cfg.Service.NonceSecret)))
}

// ThanksURL is the default post-submission redirect target
func (s *Service) ThanksURL(referrer string) string {
	return fmt.Sprintf("%s/thanks?next=%s", s.cfg.Service.URL, url.QueryEscape(referrer))
}

// SpamURL is the one-click mark-as-spam link embedded in emails
func (s *Service) SpamURL(sub *model.Submission) string {
	return fmt.Sprintf("%s/submissions/%d/spam/%s", s.cfg.Service.URL, sub.ID,
		sub.SpamDigest([]byte(s.cfg.Service.NonceSecret)))
}

// PluginsPageURL points at the form's plugin settings page
func (s *Service) PluginsPageURL(form *model.Form) string {
	return fmt.Sprintf("%s/forms/%s/plugins", s.cfg.Service.URL, s.Hashid(form))
}

// SubmissionsPageURL points at the form's submission archive page
func (s *Service) SubmissionsPageURL(form *model.Form) string {
	return fmt.Sprintf("%s/forms/%s/submissions", s.cfg.Service.URL, s.Hashid(form))
}
