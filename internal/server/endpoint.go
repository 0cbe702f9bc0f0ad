package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"formbridge/internal/forms"
	"formbridge/internal/model"
	"formbridge/internal/normalize"
)

// PostSubmission is the intake endpoint and first stage of submission
// handling: find or create the form, check its state, then either
// accept the submission or start the confirmation round-trip.
func (h *Handlers) PostSubmission(c *gin.Context) {
	target := c.Param("target")
	wantsJSON := requestWantsJSON(c.Request)

	data, keys, err := parseSubmission(c.Request)
	if err != nil {
		logrus.WithError(err).Warn("Unreadable submission body")
		h.errorPage(c, http.StatusBadRequest, wantsJSON, "Unable to submit form",
			"We couldn't read your submission. Please try again.")
		return
	}

	host, referrer, ok := h.hostAndReferrer(c, data)
	if !ok {
		return
	}

	form, err := h.forms.Resolve(target, host, wantsJSON)
	if err != nil {
		h.resolveError(c, err, target, host, wantsJSON)
		return
	}

	hasDashboard := h.forms.HasFeature(form, model.FeatureDashboard)
	if h.gate.Required(c.Request.Context(), form, hasDashboard, data, c.ClientIP(), wantsJSON) {
		h.challengePage(c, form, target, data, keys, referrer, wantsJSON)
		return
	}

	var result forms.SubmitResult
	if form.Confirmed {
		result = h.forms.Submit(form, data, keys, referrer)
	} else {
		result = h.forms.SendConfirmation(c.Request.Context(), form, data, keys)
	}
	h.respondForStatus(c, form, host, referrer, result, wantsJSON)
}

// BadMethod answers browsers that navigate to a form endpoint
func (h *Handlers) BadMethod(c *gin.Context) {
	if requestWantsJSON(c.Request) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{
			Error: "method_not_allowed",
			Message: "This endpoint only accepts POST requests from HTML forms " +
				"or JSON clients.",
			Code: http.StatusMethodNotAllowed,
		})
		return
	}
	h.errorPage(c, http.StatusMethodNotAllowed, false, "Use POST",
		"This endpoint accepts form submissions by POST. Point your form's action here.")
}

// hostAndReferrer resolves where the submission came from: either the
// hostname stashed while the challenge page round-tripped, or the
// Referer header. Returns ok=false after writing the response itself.
func (h *Handlers) hostAndReferrer(c *gin.Context, data map[string]string) (string, string, bool) {
	if nonce, present := data["_host_nonce"]; present {
		host, referrer, found, err := h.nonces.TakeHostname(c.Request.Context(), nonce)
		if err != nil || !found {
			logrus.WithError(err).Error("Invalid hostname nonce")
			h.errorPage(c, http.StatusInternalServerError, requestWantsJSON(c.Request),
				"Unable to submit form",
				"We had a problem identifying to whom we should have submitted this form. "+
					"Please try submitting again.")
			return "", "", false
		}
		return host, referrer, true
	}

	referrer := c.Request.Referer()
	return normalize.ReferrerToPath(referrer), referrer, true
}

func (h *Handlers) resolveError(c *gin.Context, err error, target, host string, wantsJSON bool) {
	switch {
	case errors.Is(err, forms.ErrUnknownForm):
		h.errorPage(c, http.StatusBadRequest, wantsJSON, "Unable to submit form",
			fmt.Sprintf("There's no form with the identifier %q.", target))
	case errors.Is(err, forms.ErrFormDisabled):
		h.errorPage(c, http.StatusForbidden, wantsJSON, "Form disabled",
			"This form is disabled and can't accept submissions.")
	case errors.Is(err, forms.ErrNoReferrer):
		h.errorPage(c, http.StatusBadRequest, wantsJSON, "Unable to submit form",
			"Your submission arrived without a Referrer header, so we can't "+
				"identify the website it came from.")
	case errors.Is(err, forms.ErrAjaxCreation):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "To prevent spam, new forms can only be created over AJAX " +
				"from registered dashboard accounts.",
		})
	case errors.Is(err, forms.ErrSpoofedHost):
		logrus.WithField("host", host).Info("Submission spoofing the service origin, ignoring")
		h.errorPage(c, http.StatusBadRequest, wantsJSON, "Unable to submit form", "Sorry.")
	default:
		logrus.WithError(err).Error("Form resolution failed")
		h.errorPage(c, http.StatusInternalServerError, wantsJSON, "Unable to submit form",
			"Something went wrong on our end. Please try again.")
	}
}

// challengePage renders the human-verification interstitial. The
// submitted fields ride along as hidden inputs together with a nonce
// holding the original hostname, so the retry post carries everything
// the first one did.
func (h *Handlers) challengePage(c *gin.Context, form *model.Form, target string, data map[string]string, keys []string, referrer string, wantsJSON bool) {
	if wantsJSON {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error: "In order to submit via AJAX reCAPTCHA protection must " +
				"first be disabled in this form's settings page.",
		})
		return
	}

	nonce, err := h.nonces.StoreHostname(c.Request.Context(), hostOf(form), referrer)
	if err != nil {
		logrus.WithError(err).Error("Failed to store challenge nonce")
		h.errorPage(c, http.StatusInternalServerError, false, "Unable to submit form",
			"Something went wrong on our end. Please try again.")
		return
	}

	carried := make(map[string]string, len(data)+1)
	for k, v := range data {
		carried[k] = v
	}
	carried["_host_nonce"] = nonce
	carriedKeys := append(append([]string{}, keys...), "_host_nonce")

	logrus.WithField("form", form.ID).Info("Redirect to captcha")
	page, err := h.renderer.RenderPage("captcha.html", map[string]interface{}{
		"data":     carried,
		"keys":     carriedKeys,
		"action":   strings.TrimRight(h.cfg.Service.URL, "/") + "/" + target,
		"lang":     data["_language"],
		"site_key": h.cfg.Captcha.SiteKey,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to render challenge page")
		c.String(http.StatusInternalServerError, "Unable to render verification page")
		return
	}
	c.Data(http.StatusUnauthorized, "text/html; charset=utf-8", []byte(page))
}

func (h *Handlers) respondForStatus(c *gin.Context, form *model.Form, host, referrer string, result forms.SubmitResult, wantsJSON bool) {
	logrus.WithField("code", result.Code).Info("Responding with status")

	switch result.Code {
	case forms.StatusSubmissionEnqueued:
		if wantsJSON {
			c.JSON(http.StatusOK, gin.H{"success": "email sent", "next": result.Next})
			return
		}
		c.Redirect(http.StatusFound, result.Next)

	case forms.StatusSubmissionEmpty:
		h.errorPage(c, http.StatusBadRequest, wantsJSON, "Can't send an empty form",
			"Make sure your form fields have name attributes and at least one is filled in.")

	case forms.StatusConfirmationSent, forms.StatusConfirmationDuplicated:
		if wantsJSON {
			c.JSON(http.StatusOK, gin.H{"success": "confirmation email sent"})
			return
		}
		page, err := h.renderer.RenderPage("confirmation_sent.html", map[string]interface{}{
			"email":  form.Email,
			"host":   host,
			"resend": result.Code == forms.StatusConfirmationDuplicated,
		})
		if err != nil {
			c.String(http.StatusInternalServerError, "Unable to render page")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))

	case forms.StatusReplyToError:
		h.errorPage(c, http.StatusBadRequest, wantsJSON, "Unable to send email",
			fmt.Sprintf("The reply-to address %q is malformed.", result.Address))

	default:
		h.errorPage(c, http.StatusInternalServerError, wantsJSON, "Unable to send email",
			"Something went wrong delivering your message. Please try again.")
	}
}

// errorPage writes an error as JSON or as the HTML error template
// depending on what the client asked for
func (h *Handlers) errorPage(c *gin.Context, status int, wantsJSON bool, title, text string) {
	if wantsJSON {
		c.JSON(status, ErrorResponse{Error: title, Message: text, Code: status})
		return
	}
	page, err := h.renderer.RenderPage("error.html", map[string]interface{}{
		"title":         title,
		"text":          text,
		"contact_email": h.cfg.Mail.ContactEmail,
	})
	if err != nil {
		c.String(status, "%s: %s", title, text)
		return
	}
	c.Data(status, "text/html; charset=utf-8", []byte(page))
}

func hostOf(form *model.Form) string {
	if form.Host == nil {
		return ""
	}
	return *form.Host
}
