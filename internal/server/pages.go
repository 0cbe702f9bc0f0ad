package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"formbridge/internal/model"
	"formbridge/internal/normalize"
)

// ThanksPage is the default post-submission landing page
func (h *Handlers) ThanksPage(c *gin.Context) {
	next := c.Query("next")
	if !normalize.ValidURL(next) {
		next = ""
	}
	page, err := h.renderer.RenderPage("thanks.html", map[string]interface{}{
		"next": next,
	})
	if err != nil {
		c.String(http.StatusInternalServerError, "Unable to render page")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

// ConfirmForm activates a form from the emailed confirmation link and
// replays the submission that triggered the confirmation, if it is
// still cached
func (h *Handlers) ConfirmForm(c *gin.Context) {
	form, err := h.forms.Confirm(c.Request.Context(), c.Param("nonce"))
	if err != nil {
		h.errorPage(c, http.StatusNotFound, false, "Can't confirm form",
			"This confirmation link is invalid or has expired. "+
				"Submit the form again to receive a fresh one.")
		return
	}

	host := ""
	if form.Host != nil {
		host = *form.Host
	}
	h.errorPage(c, http.StatusOK, false, "Form activated",
		"Your form on "+host+" is now active and will forward submissions to "+
			form.Email+".")
}

// UnconfirmForm is the one-click unsubscribe target embedded in every
// notification email
func (h *Handlers) UnconfirmForm(c *gin.Context) {
	formID, err := strconv.ParseUint(c.Param("form_id"), 10, 64)
	if err != nil {
		h.errorPage(c, http.StatusNotFound, false, "Not found", "No such form.")
		return
	}

	var form model.Form
	if err := h.db.First(&form, uint(formID)).Error; err != nil {
		h.errorPage(c, http.StatusNotFound, false, "Not found", "No such form.")
		return
	}

	ok, err := h.forms.Unconfirm(&form, c.Param("digest"))
	if err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("Unconfirm failed")
		h.errorPage(c, http.StatusInternalServerError, false, "Unable to unsubscribe",
			"Something went wrong on our end. Please try again.")
		return
	}
	if !ok {
		h.errorPage(c, http.StatusForbidden, false, "Unable to unsubscribe",
			"This unsubscribe link is not valid.")
		return
	}

	h.errorPage(c, http.StatusOK, false, "Unsubscribed",
		"The form was deactivated. You will receive no further emails from it.")
}

// MarkSpamPage handles the one-click mark-as-spam link from
// notification emails
func (h *Handlers) MarkSpamPage(c *gin.Context) {
	subID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.errorPage(c, http.StatusNotFound, false, "Not found", "No such submission.")
		return
	}

	var sub model.Submission
	if err := h.db.First(&sub, uint(subID)).Error; err != nil {
		h.errorPage(c, http.StatusNotFound, false, "Not found", "No such submission.")
		return
	}
	if !sub.CheckSpamDigest(c.Param("digest"), []byte(h.cfg.Service.NonceSecret)) {
		h.errorPage(c, http.StatusForbidden, false, "Unable to flag submission",
			"This link is not valid.")
		return
	}

	var form model.Form
	if err := h.db.First(&form, sub.FormID).Error; err != nil {
		h.errorPage(c, http.StatusNotFound, false, "Not found", "No such form.")
		return
	}
	if err := h.forms.SetSpam(&form, []uint{sub.ID}, true); err != nil {
		logrus.WithError(err).WithField("submission", sub.ID).Error("Spam flagging failed")
		h.errorPage(c, http.StatusInternalServerError, false, "Unable to flag submission",
			"Something went wrong on our end. Please try again.")
		return
	}

	h.errorPage(c, http.StatusOK, false, "Thanks",
		"The submission was flagged as spam and won't count against the form.")
}
