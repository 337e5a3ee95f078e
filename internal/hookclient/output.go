package hookclient

import (
	"encoding/json"
	"fmt"

	"github.com/mquinn/gatekeep/internal/rules"
)

// Format selects the hook protocol's expected output shape.
type Format string

const (
	// FormatFlat emits a permission decision under hookSpecificOutput.
	FormatFlat Format = "flat"
	// FormatNested emits a behavior object that can also instruct the
	// caller to persist an allow rule locally.
	FormatNested Format = "nested"
)

type preToolUseOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

type flatOutput struct {
	HookSpecificOutput preToolUseOutput `json:"hookSpecificOutput"`
}

type permissionRuleValue struct {
	ToolName    string `json:"toolName"`
	RuleContent string `json:"ruleContent,omitempty"`
}

type permissionUpdate struct {
	Type        string                `json:"type"`
	Rules       []permissionRuleValue `json:"rules"`
	Behavior    string                `json:"behavior"`
	Destination string                `json:"destination"`
}

type nestedOutput struct {
	Behavior           string             `json:"behavior"`
	Message            string             `json:"message,omitempty"`
	UpdatedPermissions []permissionUpdate `json:"updatedPermissions,omitempty"`
}

// Encode renders a decision in the requested protocol shape.
func Encode(format Format, d Decision) ([]byte, error) {
	switch format {
	case FormatNested:
		return encodeNested(d)
	case FormatFlat, "":
		return encodeFlat(d)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func encodeFlat(d Decision) ([]byte, error) {
	decision := "deny"
	if d.Allow {
		decision = "allow"
	}
	return json.Marshal(flatOutput{
		HookSpecificOutput: preToolUseOutput{
			HookEventName:            "PreToolUse",
			PermissionDecision:       decision,
			PermissionDecisionReason: d.Reason,
		},
	})
}

func encodeNested(d Decision) ([]byte, error) {
	out := nestedOutput{Behavior: "deny", Message: d.Reason}
	if d.Allow {
		out.Behavior = "allow"
		out.Message = ""
	}

	if d.DeriveRule {
		rule := permissionRuleValue{ToolName: d.Tool}
		if d.Command != "" {
			rule.RuleContent = rules.CommandPattern(d.Command)
		}
		out.UpdatedPermissions = []permissionUpdate{{
			Type:        "addRules",
			Rules:       []permissionRuleValue{rule},
			Behavior:    "allow",
			Destination: "localSettings",
		}}
	}
	return json.Marshal(out)
}
