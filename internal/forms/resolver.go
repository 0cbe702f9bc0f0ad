package forms

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/model"
	"formbridge/internal/normalize"
)

// Resolve finds or creates the target form for a submission.
//
// When target is not shaped like an email address it is treated as an
// external form identifier created from the dashboard. Otherwise it
// is a delivery address and the form is looked up by (email, host),
// tolerating every historical spelling of the host; if none exists a
// new unconfirmed form is created, except for programmatic requests
// and for hosts spoofing the service's own domain.
func (s *Service) Resolve(target, host string, wantsJSON bool) (*model.Form, error) {
	if !normalize.IsValidEmail(target) {
		return s.resolveByHashid(target)
	}

	if host == "" {
		return nil, ErrNoReferrer
	}
	return s.resolveByEmailHost(strings.ToLower(target), host, wantsJSON)
}

func (s *Service) resolveByHashid(target string) (*model.Form, error) {
	id, err := s.codec.Decode(target)
	if err != nil {
		return nil, ErrUnknownForm
	}

	var form model.Form
	if err := s.db.First(&form, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrUnknownForm
		}
		return nil, fmt.Errorf("failed to look up form %d: %w", id, err)
	}
	if form.Disabled {
		return nil, ErrFormDisabled
	}
	return &form, nil
}

// resolveByEmailHost implements the backward-compatibility tie-break
// across host spellings: an exact confirmed (email, host) match wins,
// then any form whose stored host normalizes to the same value,
// ordered confirmed first and shortest stored host first (the
// canonical spelling among historical duplicates).
func (s *Service) resolveByEmailHost(email, host string, wantsJSON bool) (*model.Form, error) {
	var candidates []model.Form
	if err := s.db.Where("email = ? AND host IS NOT NULL", email).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query forms for %s: %w", email, err)
	}

	normalized := normalize.Host(host)

	type ranked struct {
		form     model.Form
		priority int
	}
	var matches []ranked
	for _, candidate := range candidates {
		stored := *candidate.Host
		if stored == host && candidate.Confirmed {
			matches = append(matches, ranked{form: candidate, priority: 0})
		} else if normalize.Host(stored) == normalized {
			matches = append(matches, ranked{form: candidate, priority: 1})
		}
	}

	if len(matches) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			a, b := matches[i], matches[j]
			if a.form.Confirmed != b.form.Confirmed {
				return a.form.Confirmed
			}
			if a.priority != b.priority {
				return a.priority < b.priority
			}
			return len(*a.form.Host) < len(*b.form.Host)
		})
		form := matches[0].form
		if form.Disabled {
			return nil, ErrFormDisabled
		}
		return &form, nil
	}

	// no existing form; decide whether we may create one
	if wantsJSON {
		return nil, ErrAjaxCreation
	}
	serviceDomain := normalize.URLDomain(s.cfg.Service.URL)
	if serviceDomain != "" && strings.Contains(host, serviceDomain) &&
		strings.TrimRight(host, "/") != s.cfg.Service.TestURL {
		logrus.WithField("host", host).Info("Attempt to create form spoofing the service domain, ignoring")
		return nil, ErrSpoofedHost
	}

	return s.createSpontaneous(email, normalized)
}

func (s *Service) createSpontaneous(email, normalizedHost string) (*model.Form, error) {
	hash := model.FormHash(email, normalizedHost, []byte(s.cfg.Service.NonceSecret))
	form := model.Form{
		Hash:      &hash,
		Email:     email,
		Host:      &normalizedHost,
		Confirmed: false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&form).Error; err != nil {
		return nil, fmt.Errorf("failed to create form for %s on %s: %w", email, normalizedHost, err)
	}
	logrus.WithFields(logrus.Fields{"form": form.ID, "email": email, "host": normalizedHost}).
		Info("Created new form from spontaneous submission")
	return &form, nil
}

// CreateFromDashboard creates a confirmed form owned by an account
func (s *Service) CreateFromDashboard(email, name string, ownerID uint) (*model.Form, error) {
	form := model.Form{
		Email:     strings.ToLower(email),
		Name:      name,
		OwnerID:   &ownerID,
		Confirmed: true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&form).Error; err != nil {
		return nil, fmt.Errorf("failed to create dashboard form for %s: %w", email, err)
	}
	return &form, nil
}

// GetByHashid loads a form by its external identifier
func (s *Service) GetByHashid(hashid string) (*model.Form, error) {
	id, err := s.codec.Decode(hashid)
	if err != nil {
		return nil, ErrUnknownForm
	}
	var form model.Form
	if err := s.db.First(&form, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrUnknownForm
		}
		return nil, fmt.Errorf("failed to load form %d: %w", id, err)
	}
	return &form, nil
}
