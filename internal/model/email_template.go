package model

// EmailTemplate is an optional per-form override of outgoing email
// rendering. One per form, created lazily on first customization.
type EmailTemplate struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	FormID   uint   `json:"form_id" gorm:"not null;uniqueIndex"`
	Subject  string `json:"subject" gorm:"type:text"`
	FromName string `json:"from_name" gorm:"type:text"`
	Style    string `json:"style" gorm:"type:text"`
	Body     string `json:"body" gorm:"type:text"`
}

// TableName specifies the table name for EmailTemplate
func (EmailTemplate) TableName() string {
	return "email_templates"
}
