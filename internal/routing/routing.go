package routing

import (
	"strings"
	"time"

	"formbridge/internal/model"
)

// Functions is the closed registry of trigger predicates. Unknown
// names are rejected when a rule is created, never at evaluation
// time.
var Functions = []string{"exists", "doesntexist", "contains", "doesntcontain", "true"}

// ValidFunction reports whether name is a registered predicate
func ValidFunction(name string) bool {
	for _, fn := range Functions {
		if fn == name {
			return true
		}
	}
	return false
}

// UsesField reports whether the predicate inspects a submission field
func UsesField(name string) bool {
	return name != "true"
}

// Recipient is one (email, rule) pair a submission should be
// delivered to. RuleID is empty for the form's default recipient.
type Recipient struct {
	Email  string
	RuleID string
}

// fieldValue resolves a trigger field against a submission. The
// special names _host and _date select submission metadata; any other
// name looks up the payload, defaulting to empty string.
func fieldValue(sub *model.Submission, field string) string {
	switch field {
	case "":
		return ""
	case "_host":
		return sub.Host
	case "_date":
		return sub.SubmittedAt.UTC().Format(time.RFC3339)
	default:
		return sub.Data[field]
	}
}

func param(params []string, i int) string {
	if i < len(params) {
		return params[i]
	}
	return ""
}

// Matches evaluates a rule's trigger against a submission
func Matches(rule *model.RoutingRule, sub *model.Submission) bool {
	value := fieldValue(sub, rule.Trigger.Field)

	switch rule.Trigger.Fn {
	case "exists":
		return value != ""
	case "doesntexist":
		return value == ""
	case "contains":
		return value != "" && strings.Contains(value, param(rule.Trigger.Params, 0))
	case "doesntcontain":
		if value == "" {
			return true
		}
		return !strings.Contains(value, param(rule.Trigger.Params, 0))
	case "true":
		return true
	}
	// unreachable for rules validated at creation time
	return false
}

// Evaluate returns the set of recipients whose rules match the
// submission. Duplicate (email, rule) pairs collapse; distinct rules
// for the same address are both retained so downstream errors can be
// attributed to the rule that selected the recipient.
func Evaluate(rules []model.RoutingRule, sub *model.Submission) []Recipient {
	seen := make(map[Recipient]bool, len(rules))
	var recipients []Recipient
	for i := range rules {
		if !Matches(&rules[i], sub) {
			continue
		}
		r := Recipient{Email: rules[i].Email, RuleID: rules[i].ID}
		if seen[r] {
			continue
		}
		seen[r] = true
		recipients = append(recipients, r)
	}
	return recipients
}
