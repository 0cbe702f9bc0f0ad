package server

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Store     string            `json:"store"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// RuleRequest is the payload for creating or updating a routing rule
type RuleRequest struct {
	Email   string         `json:"email" binding:"required"`
	Trigger TriggerRequest `json:"trigger" binding:"required"`
}

// TriggerRequest is a routing rule predicate
type TriggerRequest struct {
	Fn     string   `json:"fn" binding:"required"`
	Field  string   `json:"field"`
	Params []string `json:"params"`
}

// SubmissionIDsRequest selects submissions for bulk operations
type SubmissionIDsRequest struct {
	IDs []uint `json:"ids" binding:"required"`
}

// SubmissionSetRequest is the payload for bulk spam flagging
type SubmissionSetRequest struct {
	IDs  []uint `json:"ids" binding:"required"`
	Spam *bool  `json:"spam" binding:"required"`
}

// WebhookCreateRequest is the payload for creating a webhook plugin
type WebhookCreateRequest struct {
	TargetURL string `json:"target_url" binding:"required,url"`
}

// TrelloCreateRequest is the payload for connecting a Trello account
type TrelloCreateRequest struct {
	Token string `json:"token" binding:"required"`
}

// TrelloSetRequest picks a board and list for the Trello plugin
type TrelloSetRequest struct {
	BoardID string `json:"board_id" binding:"required"`
	ListID  string `json:"list_id" binding:"required"`
}

// MailchimpSetRequest picks an audience for the Mailchimp plugin
type MailchimpSetRequest struct {
	ListID string `json:"list_id" binding:"required"`
}

// PluginUpdateRequest toggles a plugin
type PluginUpdateRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// TemplateRequest is the payload for setting a custom email template
type TemplateRequest struct {
	Subject  string `json:"subject"`
	FromName string `json:"from_name"`
	Style    string `json:"style"`
	Body     string `json:"body" binding:"required"`
}
