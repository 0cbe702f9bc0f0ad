package model

// Trigger is the conditional half of a routing rule: a predicate
// function name, the submission field it inspects (empty for
// functions that ignore the field) and the function's parameters.
type Trigger struct {
	Fn     string   `json:"fn"`
	Field  string   `json:"field"`
	Params []string `json:"params"`
}

// RoutingRule maps a matching submission to an extra recipient
type RoutingRule struct {
	ID     string  `json:"id" gorm:"type:varchar(36);primaryKey"`
	FormID uint    `json:"form_id" gorm:"not null;index"`
	Email  string  `json:"email" gorm:"type:varchar(120)"`
	Trigger Trigger `json:"trigger" gorm:"serializer:json"`
}

// TableName specifies the table name for RoutingRule
func (RoutingRule) TableName() string {
	return "routing_rules"
}
