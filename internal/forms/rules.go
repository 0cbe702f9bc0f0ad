package forms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"formbridge/internal/model"
	"formbridge/internal/normalize"
	"formbridge/internal/routing"
)

var (
	// ErrUnknownTriggerFn is returned when a rule names a trigger
	// function outside the fixed registry.
	ErrUnknownTriggerFn = errors.New("unknown trigger function")

	// ErrUnverifiedRecipient is returned when a rule targets an
	// address no controlling account has verified.
	ErrUnverifiedRecipient = errors.New("recipient address is not verified")

	// ErrRuleNotFound is returned for rule lookups that miss.
	ErrRuleNotFound = errors.New("routing rule not found")
)

// Rules returns the form's routing rules.
func (s *Service) Rules(form *model.Form) ([]model.RoutingRule, error) {
	var rules []model.RoutingRule
	if err := s.db.Where("form_id = ?", form.ID).Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load routing rules for form %d: %w", form.ID, err)
	}
	return rules, nil
}

// CreateRule validates and stores a routing rule. The trigger
// function must be one of the registry's names, and the recipient
// must be an address some controlling account has verified.
func (s *Service) CreateRule(form *model.Form, email string, trigger model.Trigger) (*model.RoutingRule, error) {
	if !routing.ValidFunction(trigger.Fn) {
		return nil, ErrUnknownTriggerFn
	}
	if routing.UsesField(trigger.Fn) && strings.TrimSpace(trigger.Field) == "" {
		return nil, fmt.Errorf("trigger function %q requires a field", trigger.Fn)
	}
	if err := s.checkVerifiedRecipient(form, email); err != nil {
		return nil, err
	}

	rule := model.RoutingRule{
		ID:      uuid.NewString(),
		FormID:  form.ID,
		Email:   email,
		Trigger: trigger,
	}
	if err := s.db.Create(&rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create routing rule: %w", err)
	}
	return &rule, nil
}

// UpdateRule replaces a rule's recipient and trigger under the same
// validation as creation.
func (s *Service) UpdateRule(form *model.Form, ruleID string, email string, trigger model.Trigger) (*model.RoutingRule, error) {
	if !routing.ValidFunction(trigger.Fn) {
		return nil, ErrUnknownTriggerFn
	}
	if err := s.checkVerifiedRecipient(form, email); err != nil {
		return nil, err
	}

	var rule model.RoutingRule
	err := s.db.Where("id = ? AND form_id = ?", ruleID, form.ID).First(&rule).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load routing rule: %w", err)
	}

	rule.Email = email
	rule.Trigger = trigger
	if err := s.db.Save(&rule).Error; err != nil {
		return nil, fmt.Errorf("failed to update routing rule: %w", err)
	}
	return &rule, nil
}

// DeleteRule removes a rule from the form.
func (s *Service) DeleteRule(form *model.Form, ruleID string) error {
	res := s.db.Where("id = ? AND form_id = ?", ruleID, form.ID).Delete(&model.RoutingRule{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete routing rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *Service) checkVerifiedRecipient(form *model.Form, email string) error {
	if !normalize.IsValidEmail(email) {
		return ErrUnverifiedRecipient
	}
	controllers, err := s.Controllers(form)
	if err != nil {
		return err
	}
	if len(controllers) == 0 {
		return ErrUnverifiedRecipient
	}
	ids := make([]uint, 0, len(controllers))
	for _, a := range controllers {
		ids = append(ids, a.ID)
	}

	var n int64
	err = s.db.Model(&model.VerifiedEmail{}).
		Where("account_id IN ? AND address = ?", ids, normalize.Email(email)).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("failed to check verified addresses: %w", err)
	}
	if n == 0 {
		return ErrUnverifiedRecipient
	}
	return nil
}
