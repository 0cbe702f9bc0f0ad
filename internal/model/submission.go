package model

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Submission processing statuses
const (
	SubmissionPending   = "pending"
	SubmissionProcessed = "processed"
)

// Control fields that must never be persisted in the submission payload
var KeysNotStored = map[string]bool{
	"_gotcha":              true,
	"_language":            true,
	"_host_nonce":          true,
	"_next":                true,
	"g-recaptcha-response": true,
}

// Control fields excluded from the outgoing email body, a superset of
// KeysNotStored
var KeysExcludedFromEmail = map[string]bool{
	"_gotcha":              true,
	"_language":            true,
	"_host_nonce":          true,
	"_next":                true,
	"g-recaptcha-response": true,
	"_subject":             true,
	"_cc":                  true,
	"_format":              true,
}

// SubmissionError is one structured error recorded while processing a
// submission. Message is user visible; Debug carries the diagnostic
// detail and is never shown to form owners.
type SubmissionError struct {
	Message string `json:"message"`
	Plugin  string `json:"plugin,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Debug   string `json:"debug,omitempty"`
}

// Submission is one accepted post to a form
type Submission struct {
	ID          uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	FormID      uint              `json:"form_id" gorm:"not null;index"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Data        map[string]string `json:"data" gorm:"serializer:json"`
	Host        string            `json:"host" gorm:"type:text"` // referrer URL
	Spam        *bool             `json:"spam"`
	Errors      []SubmissionError `json:"errors" gorm:"serializer:json"`
	Status      string            `json:"status" gorm:"type:varchar(20);not null;default:pending"`

	Form *Form `json:"-" gorm:"foreignKey:FormID"`
}

// TableName specifies the table name for Submission
func (Submission) TableName() string {
	return "submissions"
}

// AppendError records a structured processing error on the submission
func (s *Submission) AppendError(message, pluginKind, ruleID, debug string) {
	s.Errors = append(s.Errors, SubmissionError{
		Message: message,
		Plugin:  pluginKind,
		Rule:    ruleID,
		Debug:   debug,
	})
}

// SpamDigest authenticates one-click mark-as-spam links
func (s *Submission) SpamDigest(nonceSecret []byte) string {
	mac := hmac.New(sha256.New, nonceSecret)
	fmt.Fprintf(mac, "spam=%d", s.ID)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckSpamDigest verifies a mark-as-spam digest in constant time
func (s *Submission) CheckSpamDigest(digest string, nonceSecret []byte) bool {
	return hmac.Equal([]byte(s.SpamDigest(nonceSecret)), []byte(digest))
}

// IsSpam reports whether the submission has been flagged as spam
func (s *Submission) IsSpam() bool {
	return s.Spam != nil && *s.Spam
}
