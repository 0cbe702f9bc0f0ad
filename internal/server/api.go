package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/clause"

	"formbridge/internal/forms"
	"formbridge/internal/model"
	"formbridge/internal/plugins"
)

// GetForm returns the form's settings and counters
func (h *Handlers) GetForm(c *gin.Context) {
	form := contextForm(c)
	monthly, err := h.ledger.Read(c.Request.Context(), form.ID)
	if err != nil {
		logrus.WithError(err).WithField("form", form.ID).Warn("Failed to read monthly counter")
	}

	c.JSON(http.StatusOK, gin.H{
		"hashid":           h.forms.Hashid(form),
		"email":            form.Email,
		"host":             form.Host,
		"name":             form.Name,
		"confirmed":        form.Confirmed,
		"disabled":         form.Disabled,
		"disable_email":    form.DisableEmail,
		"disable_storage":  form.DisableStorage,
		"captcha_disabled": form.CaptchaDisabled,
		"counter":          form.Counter,
		"monthly_counter":  monthly,
		"apikey_readonly":  form.APIKeyReadonly(),
	})
}

// ResetAPIKey rotates the form's API keys
func (h *Handlers) ResetAPIKey(c *gin.Context) {
	form := contextForm(c)
	if err := h.forms.ResetAPIKey(form); err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("API key reset failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Failed to reset API key",
			Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"apikey":          form.APIKey,
		"apikey_readonly": form.APIKeyReadonly(),
	})
}

// ListSubmissions returns the form's stored submissions plus the
// union of their field names
func (h *Handlers) ListSubmissions(c *gin.Context) {
	form := contextForm(c)

	spam := c.Query("filter") == "spam"
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	rows, fields, err := h.forms.SubmissionsWithFields(form, spam, limit)
	if err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("Submission list failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Failed to list submissions",
			Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": rows, "fields": fields})
}

// SetSubmissionsSpam bulk-updates the spam flag
func (h *Handlers) SetSubmissionsSpam(c *gin.Context) {
	form := contextForm(c)

	var req SubmissionSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if err := h.forms.SetSpam(form, req.IDs, *req.Spam); err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("Bulk spam update failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Failed to update submissions",
			Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "counter": form.Counter})
}

// DeleteSubmissions bulk-deletes submissions
func (h *Handlers) DeleteSubmissions(c *gin.Context) {
	form := contextForm(c)

	var req SubmissionIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if err := h.forms.DeleteSubmissions(form, req.IDs); err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("Bulk delete failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Failed to delete submissions",
			Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "counter": form.Counter})
}

// routing rules --------------------------------------------------------

// ListRules returns the form's routing rules
func (h *Handlers) ListRules(c *gin.Context) {
	form := contextForm(c)
	rules, err := h.forms.Rules(form)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Failed to list rules",
			Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule adds a routing rule
func (h *Handlers) CreateRule(c *gin.Context) {
	form := contextForm(c)

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	rule, err := h.forms.CreateRule(form, req.Email, model.Trigger{
		Fn:     req.Trigger.Fn,
		Field:  req.Trigger.Field,
		Params: req.Trigger.Params,
	})
	if err != nil {
		h.ruleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule replaces a routing rule's recipient and trigger
func (h *Handlers) UpdateRule(c *gin.Context) {
	form := contextForm(c)

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	rule, err := h.forms.UpdateRule(form, c.Param("ruleid"), req.Email, model.Trigger{
		Fn:     req.Trigger.Fn,
		Field:  req.Trigger.Field,
		Params: req.Trigger.Params,
	})
	if err != nil {
		h.ruleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule removes a routing rule
func (h *Handlers) DeleteRule(c *gin.Context) {
	form := contextForm(c)
	if err := h.forms.DeleteRule(form, c.Param("ruleid")); err != nil {
		h.ruleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) ruleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, forms.ErrUnknownTriggerFn):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_trigger", Message: err.Error(), Code: http.StatusBadRequest})
	case errors.Is(err, forms.ErrUnverifiedRecipient):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "unverified_recipient",
			Message: "Rules can only route to addresses verified by an account " +
				"controlling this form",
			Code: http.StatusBadRequest})
	case errors.Is(err, forms.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "not_found", Message: "Rule not found", Code: http.StatusNotFound})
	default:
		logrus.WithError(err).Error("Rule operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Rule operation failed",
			Code: http.StatusInternalServerError})
	}
}

// plugins --------------------------------------------------------------

// ListPlugins returns the form's plugins without their tokens
func (h *Handlers) ListPlugins(c *gin.Context) {
	form := contextForm(c)
	list, err := h.plugins.ListForForm(form)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Failed to list plugins",
			Code: http.StatusInternalServerError})
		return
	}
	out := make([]map[string]interface{}, 0, len(list))
	for i := range list {
		out = append(out, plugins.Serialize(&list[i]))
	}
	c.JSON(http.StatusOK, out)
}

// CreateWebhookPlugin probes the target and enables the webhook
func (h *Handlers) CreateWebhookPlugin(c *gin.Context) {
	form := contextForm(c)

	var req WebhookCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	if _, err := h.plugins.CreateWebhook(form, req.TargetURL); err != nil {
		if errors.Is(err, plugins.ErrProbeFailed) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		h.pluginError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

// CreateTrelloPlugin stores the user's Trello token, disabled until a
// board is picked
func (h *Handlers) CreateTrelloPlugin(c *gin.Context) {
	form := contextForm(c)

	var req TrelloCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if _, err := h.plugins.CreateTrello(form, req.Token); err != nil {
		h.pluginError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

// SetTrelloPlugin picks the board and list and enables the plugin
func (h *Handlers) SetTrelloPlugin(c *gin.Context) {
	form := contextForm(c)

	var req TrelloSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if err := h.plugins.SetTrello(form, req.BoardID, req.ListID); err != nil {
		h.pluginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetMailchimpPlugin picks the audience and enables the plugin
func (h *Handlers) SetMailchimpPlugin(c *gin.Context) {
	form := contextForm(c)

	var req MailchimpSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if err := h.plugins.SetMailchimp(form, req.ListID); err != nil {
		h.pluginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UpdatePlugin toggles a plugin on or off
func (h *Handlers) UpdatePlugin(c *gin.Context) {
	form := contextForm(c)
	kind := model.PluginKind(c.Param("kind"))
	if !model.ValidPluginKind(kind) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_kind", Message: "Unknown plugin kind", Code: http.StatusBadRequest})
		return
	}

	var req PluginUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if err := h.plugins.SetEnabled(c.Request.Context(), form, kind, *req.Enabled); err != nil {
		h.pluginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeletePlugin removes a plugin
func (h *Handlers) DeletePlugin(c *gin.Context) {
	form := contextForm(c)
	kind := model.PluginKind(c.Param("kind"))
	if !model.ValidPluginKind(kind) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_kind", Message: "Unknown plugin kind", Code: http.StatusBadRequest})
		return
	}
	if err := h.plugins.Delete(form, kind); err != nil {
		h.pluginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) pluginError(c *gin.Context, err error) {
	if errors.Is(err, plugins.ErrPluginNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "not_found", Message: err.Error(), Code: http.StatusNotFound})
		return
	}
	logrus.WithError(err).Error("Plugin operation failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: "internal_error", Message: "Plugin operation failed",
		Code: http.StatusInternalServerError})
}

// SetTemplate upserts the form's custom notification email template
func (h *Handlers) SetTemplate(c *gin.Context) {
	form := contextForm(c)

	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid_request", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}

	template := model.EmailTemplate{
		FormID:   form.ID,
		Subject:  req.Subject,
		FromName: req.FromName,
		Style:    req.Style,
		Body:     req.Body,
	}
	err := h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "form_id"}},
		UpdateAll: true,
	}).Create(&template).Error
	if err != nil {
		logrus.WithError(err).WithField("form", form.ID).Error("Template update failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: "Failed to save template",
			Code: http.StatusInternalServerError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
