package forms

import "errors"

// Policy rejections surfaced to the intake endpoint. No submission
// row exists when any of these is returned.
var (
	ErrUnknownForm  = errors.New("form not found")
	ErrFormDisabled = errors.New("form is disabled")
	ErrNoReferrer   = errors.New("request has no referrer")
	ErrSpoofedHost  = errors.New("refusing to create form for the service's own domain")
	ErrAjaxCreation = errors.New("programmatic requests cannot create new forms")
)
