package authorize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mquinn/gatekeep/internal/bus"
	"github.com/mquinn/gatekeep/internal/rules"
)

// AckKind names the resolution branch an action landed in.
type AckKind string

const (
	AckMalformed AckKind = "malformed"
	AckUnknown   AckKind = "unknown"
	AckDuplicate AckKind = "duplicate"
	AckResolved  AckKind = "resolved"
)

// Ack is the user-facing acknowledgment for a card action. It can be
// rendered synchronously in the same exchange or pushed as a card
// update, depending on what the delivering channel supports.
type Ack struct {
	Kind       AckKind
	RequestID  string
	Text       string
	Decision   Decision
	Label      string
	ResolvedAt time.Time
	RuleID     string
}

// ActionPayload is the decoded value carried by a card action.
type ActionPayload struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
}

// DecodeActionValue unwraps an action payload. Some event sources
// double-encode the JSON value, so a payload that decodes to a string
// is decoded once more. This is a two-step normalization, not a loop.
func DecodeActionValue(raw string) (ActionPayload, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ActionPayload{}, fmt.Errorf("empty action value")
	}

	var nested string
	if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
		trimmed = nested
	}

	var payload ActionPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return ActionPayload{}, fmt.Errorf("decode action value: %w", err)
	}
	return payload, nil
}

// AlertCanceler cancels a scheduled escalation by key.
type AlertCanceler interface {
	Cancel(key string) bool
}

// AuditSink records lifecycle events.
type AuditSink interface {
	RequestResolved(requestID, tool string, decision, reason string)
	RuleAdded(ruleID, tool, pattern string)
}

// Resolver applies operator card actions to the request store and
// derives permission rules from "always allow" style choices.
type Resolver struct {
	store  *Store
	rules  *rules.Store
	alerts AlertCanceler
	audit  AuditSink
}

// NewResolver wires the resolution state machine. alerts and audit may
// be nil.
func NewResolver(store *Store, ruleStore *rules.Store, alerts AlertCanceler, audit AuditSink) *Resolver {
	return &Resolver{
		store:  store,
		rules:  ruleStore,
		alerts: alerts,
		audit:  audit,
	}
}

// HandleAction resolves one inbound card action and returns the
// acknowledgment to show the operator. Any click on a known card
// cancels its pending escalation, even when the click itself turns out
// to be malformed or a duplicate: the click is evidence of attention.
func (r *Resolver) HandleAction(action *bus.CardAction) Ack {
	if action == nil {
		return Ack{Kind: AckMalformed, Text: "Malformed action: empty event."}
	}

	if r.alerts != nil && !action.Ref.IsZero() {
		r.alerts.Cancel(action.Ref.Key())
	}

	payload, err := DecodeActionValue(action.Value)
	if err != nil || strings.TrimSpace(payload.RequestID) == "" {
		slog.Warn("card action payload malformed",
			"request_id", action.RequestID,
			"channel", action.Ref.Channel,
			"error", err,
		)
		return Ack{Kind: AckMalformed, Text: "Malformed action payload; nothing was changed."}
	}

	req := r.store.Get(payload.RequestID)
	if req == nil {
		return Ack{
			Kind: AckUnknown,
			Text: "This request is no longer tracked (expired or the server restarted). The command was not approved.",
		}
	}

	// Actions injected outside the chat platform carry no message ref,
	// but the escalation is armed under the delivered card's ref. Any
	// action reaching a known request disarms it.
	if r.alerts != nil && !req.MessageRef.IsZero() && req.MessageRef != action.Ref {
		r.alerts.Cancel(req.MessageRef.Key())
	}

	if req.Status != StatusPending {
		// Duplicate click: replay the acknowledgment from the stored
		// decision, never from the new click's label.
		return r.replayAck(req)
	}

	label := payload.Action
	decision := ClassifyLabel(label)
	resolved := r.store.Resolve(req.ID, decision, label)
	if resolved == nil || resolved.Status != StatusResolved {
		// Lost the race against expiry between Get and Resolve.
		return r.replayAck(r.store.Get(req.ID))
	}

	ruleID := ""
	if decision == DecisionAllow && WantsRule(label) {
		ruleID = r.deriveRule(resolved, label)
	}

	if r.audit != nil {
		r.audit.RequestResolved(resolved.ID, resolved.Tool, string(decision), label)
	}
	slog.Info("authorization resolved",
		"request_id", resolved.ID,
		"tool", resolved.Tool,
		"decision", decision,
		"label", label,
	)

	return Ack{
		Kind:       AckResolved,
		RequestID:  resolved.ID,
		Text:       resolutionText(decision, label, resolved.ResolvedAt),
		Decision:   decision,
		Label:      label,
		ResolvedAt: resolved.ResolvedAt,
		RuleID:     ruleID,
	}
}

func (r *Resolver) replayAck(req *Request) Ack {
	if req == nil {
		return Ack{Kind: AckUnknown, Text: "This request is no longer tracked. The command was not approved."}
	}
	if req.Status == StatusExpired {
		return Ack{
			Kind:      AckDuplicate,
			RequestID: req.ID,
			Text:      "This request already expired without a decision.",
		}
	}
	return Ack{
		Kind:       AckDuplicate,
		RequestID:  req.ID,
		Text:       resolutionText(req.Decision, req.DecisionReason, req.ResolvedAt),
		Decision:   req.Decision,
		Label:      req.DecisionReason,
		ResolvedAt: req.ResolvedAt,
	}
}

func (r *Resolver) deriveRule(req *Request, label string) string {
	if r.rules == nil {
		return ""
	}

	input := rules.AddInput{
		Tool:  req.Tool,
		Scope: rules.ScopeAlways,
	}
	if req.Command != "" {
		input.CommandPattern = rules.CommandPattern(req.Command)
	}
	if WantsProjectScope(label) && req.CWD != "" {
		input.Scope = rules.ScopeProject
		input.ProjectPath = req.CWD
	}

	rule, err := r.rules.Add(input)
	if err != nil {
		slog.Error("failed to persist permission rule", "request_id", req.ID, "tool", req.Tool, "error", err)
		return ""
	}
	if r.audit != nil {
		r.audit.RuleAdded(rule.ID, rule.Tool, rule.CommandPattern)
	}
	slog.Info("permission rule added",
		"rule_id", rule.ID,
		"tool", rule.Tool,
		"pattern", rule.CommandPattern,
		"scope", rule.Scope,
	)
	return rule.ID
}

func resolutionText(decision Decision, label string, at time.Time) string {
	verb := "Allowed"
	if decision == DecisionDeny {
		verb = "Denied"
	}
	when := at.UTC().Format("2006-01-02 15:04:05 MST")
	if label == "" {
		return fmt.Sprintf("%s at %s.", verb, when)
	}
	return fmt.Sprintf("%s (%q) at %s.", verb, label, when)
}
