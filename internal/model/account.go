package model

import (
	"time"
)

// Feature names granted by plans
const (
	FeatureDashboard         = "dashboard"
	FeatureUnlimited         = "unlimited"
	FeatureArchive           = "archive"
	FeatureAjax              = "ajax"
	FeatureDisableRecaptcha  = "disable_recaptcha"
	FeaturePlugins           = "plugins"
	FeatureWhitelabel        = "whitelabel"
	FeatureSubmissionRouting = "submission_routing"
	FeatureAPIAccess         = "api_access"
)

// planFeatures maps each plan to the features it grants. The old
// "gold" plan keeps its legacy feature list for grandfathered
// accounts.
var planFeatures = map[string][]string{
	"v1_free": {"base", "replyto", "recaptcha"},
	"gold": {
		"base", "replyto", "recaptcha", "unlimited_addresses",
		"thankyou", FeatureArchive, FeatureAjax, FeatureDisableRecaptcha,
		FeatureDashboard, FeatureUnlimited, FeaturePlugins,
	},
	"v1_gold": {
		"base", "replyto", "recaptcha",
		"thankyou", FeatureArchive, FeatureAjax, FeatureDisableRecaptcha,
		FeatureDashboard, FeatureUnlimited, FeaturePlugins, FeatureAPIAccess,
	},
	"v1_platinum": {
		"base", "replyto", "recaptcha",
		"thankyou", FeatureArchive, FeatureAjax, FeatureDisableRecaptcha,
		FeatureDashboard, FeatureUnlimited, FeaturePlugins, FeatureAPIAccess,
		FeatureWhitelabel, "unlimited_addresses", "custom_emails",
		FeatureSubmissionRouting,
	},
}

// PlanFeatures returns the features a plan grants
func PlanFeatures(plan string) []string {
	return planFeatures[plan]
}

// PlanHasFeature reports whether a plan grants a feature
func PlanHasFeature(plan, feature string) bool {
	for _, f := range planFeatures[plan] {
		if f == feature {
			return true
		}
	}
	return false
}

// Account is an external collaborator as far as the intake pipeline
// is concerned: only its plan and verified addresses matter here.
type Account struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Email     string    `json:"email" gorm:"type:varchar(120);not null;uniqueIndex"`
	Plan      string    `json:"plan" gorm:"type:varchar(30);not null;default:v1_free"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// HasFeature reports whether the account's plan grants a feature
func (a *Account) HasFeature(feature string) bool {
	return PlanHasFeature(a.Plan, feature)
}

// VerifiedEmail is an address an account has proven control of.
// Addresses are stored normalized (plus-tags removed).
type VerifiedEmail struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	AccountID uint   `json:"account_id" gorm:"not null;index"`
	Address   string `json:"address" gorm:"type:varchar(120);not null;index"`
}

// TableName specifies the table name for VerifiedEmail
func (VerifiedEmail) TableName() string {
	return "verified_emails"
}
