package forms

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"formbridge/internal/mailer"
	"formbridge/internal/model"
	"formbridge/internal/normalize"
)

// SendConfirmation mails the activation link for a spontaneous form.
// The first submission's payload, if given, is cached so it can be
// replayed once the owner confirms. Sending twice is a no-op.
func (s *Service) SendConfirmation(ctx context.Context, form *model.Form, storeData map[string]string, keys []string) SubmitResult {
	log := logrus.WithFields(logrus.Fields{"form": form.ID, "to": form.Email})
	if form.Host == nil {
		log.Error("Trying to send confirmation without host")
	}

	if form.ConfirmSent {
		log.Debug("Confirmation previously sent")
		return SubmitResult{Code: StatusConfirmationDuplicated}
	}

	// the nonce for email confirmation is the form hash; confirmation
	// emails only go out for spontaneous forms, which always have one
	nonce := ""
	if form.Hash != nil {
		nonce = *form.Hash
	}
	link := s.ConfirmURL(nonce)

	if storeData != nil {
		if err := s.nonces.StoreFirstSubmission(ctx, nonce, storeData, keys); err != nil {
			log.WithField("error", err).Warn("Failed to cache first submission")
		}
	}

	host := ""
	if form.Host != nil {
		host = normalize.ReferrerToPath(*form.Host)
		if host == "" {
			host = *form.Host
		}
	}
	params := map[string]interface{}{
		"email":      form.Email,
		"host":       host,
		"nonce_link": link,
	}
	text, err := s.renderer.Render("confirm.txt", params)
	if err != nil {
		log.WithField("error", err).Error("Failed to render confirmation email")
		return SubmitResult{Code: StatusConfirmationFailed}
	}
	html, err := s.renderer.Render("confirm.html", params)
	if err != nil {
		log.WithField("error", err).Error("Failed to render confirmation email")
		return SubmitResult{Code: StatusConfirmationFailed}
	}

	ok, _, _ := s.sender.Send(mailer.Message{
		To:      form.Email,
		Subject: fmt.Sprintf("Action Required: Activate %s on %s", s.cfg.Service.Name, host),
		Text:    text,
		HTML:    html,
		Sender:  s.cfg.Mail.DefaultSender,
		Headers: map[string]string{
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
			"List-Unsubscribe":      "<" + s.UnconfirmURL(form) + ">",
		},
	})
	if !ok {
		return SubmitResult{Code: StatusConfirmationFailed}
	}

	if err := s.db.Model(&model.Form{}).Where("id = ?", form.ID).
		Update("confirm_sent", true).Error; err != nil {
		log.WithField("error", err).Error("Failed to record confirmation send")
		return SubmitResult{Code: StatusConfirmationFailed}
	}
	form.ConfirmSent = true
	log.Debug("Confirmation email queued")

	return SubmitResult{Code: StatusConfirmationSent}
}

// Confirm activates the form identified by the confirmation nonce
// and replays the cached first submission, if any
func (s *Service) Confirm(ctx context.Context, nonce string) (*model.Form, error) {
	var form model.Form
	if err := s.db.Where("hash = ?", nonce).First(&form).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrUnknownForm
		}
		return nil, fmt.Errorf("failed to look up form by confirmation nonce: %w", err)
	}

	if err := s.db.Model(&model.Form{}).Where("id = ?", form.ID).
		Update("confirmed", true).Error; err != nil {
		return nil, fmt.Errorf("failed to confirm form %d: %w", form.ID, err)
	}
	form.Confirmed = true

	if data, keys, ok := s.nonces.FetchFirstSubmission(ctx, nonce); ok {
		// form.Host is only used for the email subject here
		host := ""
		if form.Host != nil {
			host = *form.Host
		}
		s.Submit(&form, data, keys, host)
	}

	return &form, nil
}

// Unconfirm deactivates a form given a valid digest. Used by the
// one-click unsubscribe links embedded in every outgoing email.
func (s *Service) Unconfirm(form *model.Form, digest string) (bool, error) {
	if !form.CheckUnconfirmDigest(digest, []byte(s.cfg.Service.NonceSecret)) {
		return false, nil
	}
	if err := s.db.Model(&model.Form{}).Where("id = ?", form.ID).
		Update("confirmed", false).Error; err != nil {
		return false, fmt.Errorf("failed to unconfirm form %d: %w", form.ID, err)
	}
	form.Confirmed = false
	return true, nil
}
