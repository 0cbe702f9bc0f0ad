package forms

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/model"
	"formbridge/internal/normalize"
)

// Submission acceptance outcomes
const (
	StatusSubmissionEnqueued = "ENQUEUED"
	StatusSubmissionEmpty    = "EMPTY_FORM"
	StatusReplyToError       = "REPLYTO_ERROR"

	StatusConfirmationSent       = "CONFIRMATION_SENT"
	StatusConfirmationDuplicated = "CONFIRMATION_DUPLICATED"
	StatusConfirmationFailed     = "CONFIRMATION_FAILED"
)

// SubmitResult is the outcome of accepting one post
type SubmitResult struct {
	Code string
	// Next is the resolved redirect target for successful posts
	Next string
	// Address is the offending reply-to for REPLYTO_ERROR
	Address  string
	Referrer string
}

// GetReplyTo extracts the submitter's address from the payload
func GetReplyTo(data map[string]string) string {
	for _, key := range []string{"_replyto", "email", "Email"} {
		if v, ok := data[key]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Submit validates and stores one post to a confirmed form, then
// enqueues asynchronous processing. The submission row always exists
// before processing starts.
func (s *Service) Submit(form *model.Form, data map[string]string, keys []string, referrer string) SubmitResult {
	var emailKeys []string
	for _, k := range keys {
		if !model.KeysExcludedFromEmail[k] {
			emailKeys = append(emailKeys, k)
		}
	}

	next := normalize.NextURL(referrer, data["_next"])
	if next == "" {
		next = s.ThanksURL(referrer)
	}

	empty := true
	for _, v := range data {
		if v != "" {
			empty = false
			break
		}
	}
	if empty {
		s.metrics.SubmissionsRejected.Inc()
		return SubmitResult{Code: StatusSubmissionEmpty, Referrer: referrer}
	}

	// honeypot: report success without storing anything so bots can't
	// tell they were detected
	if data["_gotcha"] != "" {
		logrus.WithFields(logrus.Fields{"form": form.ID, "gotcha": data["_gotcha"]}).Info("Submission rejected")
		s.metrics.SubmissionsSpam.Inc()
		return SubmitResult{Code: StatusSubmissionEnqueued, Next: next}
	}

	replyTo := GetReplyTo(data)
	if replyTo != "" && !normalize.IsValidEmail(replyTo) {
		logrus.WithFields(logrus.Fields{"form": form.ID, "reply_to": replyTo}).Info("Submission rejected, reply-to is invalid")
		s.metrics.SubmissionsRejected.Inc()
		return SubmitResult{Code: StatusReplyToError, Address: replyTo, Referrer: referrer}
	}

	stored := make(map[string]string, len(data))
	for k, v := range data {
		if !model.KeysNotStored[k] {
			stored[k] = v
		}
	}

	submission := model.Submission{
		FormID:      form.ID,
		SubmittedAt: time.Now().UTC(),
		Data:        stored,
		Host:        referrer,
		Status:      model.SubmissionPending,
	}
	if err := s.db.Create(&submission).Error; err != nil {
		logrus.WithFields(logrus.Fields{"form": form.ID, "error": err}).Error("Failed to store submission")
		return SubmitResult{Code: StatusSubmissionEmpty, Referrer: referrer}
	}

	s.queue.Enqueue(submission.ID, emailKeys)
	s.metrics.SubmissionsAccepted.Inc()
	logrus.WithFields(logrus.Fields{
		"form":       form.ID,
		"submission": submission.ID,
		"email":      form.Email,
	}).Info("Submission enqueued")

	return SubmitResult{Code: StatusSubmissionEnqueued, Next: next}
}

// IncrementCounter bumps the form's lifetime accepted-submission
// counter by one. The monthly counter lives in the quota ledger and
// is incremented separately by the processing worker.
func (s *Service) IncrementCounter(form *model.Form) error {
	if err := s.db.Model(&model.Form{}).Where("id = ?", form.ID).
		UpdateColumn("counter", gorm.Expr("counter + 1")).Error; err != nil {
		return fmt.Errorf("failed to increment counter for form %d: %w", form.ID, err)
	}
	form.Counter++
	return nil
}
