package model

import (
	"gorm.io/datatypes"
)

// PluginKind is the closed set of supported integrations
type PluginKind string

const (
	PluginWebhook      PluginKind = "webhook"
	PluginGoogleSheets PluginKind = "google-sheets"
	PluginTrello       PluginKind = "trello"
	PluginSlack        PluginKind = "slack"
	PluginMailchimp    PluginKind = "mailchimp"
)

// PluginKinds lists every supported kind
var PluginKinds = []PluginKind{
	PluginWebhook,
	PluginGoogleSheets,
	PluginTrello,
	PluginSlack,
	PluginMailchimp,
}

// ValidPluginKind reports whether kind names a supported integration
func ValidPluginKind(kind PluginKind) bool {
	for _, k := range PluginKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Plugin is one enabled third-party integration on a form. At most
// one plugin of each kind per form.
type Plugin struct {
	ID          string            `json:"id" gorm:"type:varchar(36);primaryKey"`
	FormID      uint              `json:"form_id" gorm:"not null;index;uniqueIndex:one_plugin_of_each_kind"`
	Kind        PluginKind        `json:"kind" gorm:"type:varchar(20);not null;uniqueIndex:one_plugin_of_each_kind"`
	Enabled     bool              `json:"enabled" gorm:"default:true;not null"`
	AccessToken string            `json:"-" gorm:"type:text"`
	PluginData  datatypes.JSONMap `json:"info"`

	Form *Form `json:"-" gorm:"foreignKey:FormID"`
}

// TableName specifies the table name for Plugin
func (Plugin) TableName() string {
	return "plugins"
}

// DataString reads a string value out of the kind-specific config map
func (p *Plugin) DataString(key string) string {
	if p.PluginData == nil {
		return ""
	}
	if s, ok := p.PluginData[key].(string); ok {
		return s
	}
	return ""
}
