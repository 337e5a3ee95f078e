package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mquinn/gatekeep/internal/alert"
	"github.com/mquinn/gatekeep/internal/audit"
	"github.com/mquinn/gatekeep/internal/authorize"
	"github.com/mquinn/gatekeep/internal/bus"
	"github.com/mquinn/gatekeep/internal/channel"
	"github.com/mquinn/gatekeep/internal/config"
	"github.com/mquinn/gatekeep/internal/metrics"
	"github.com/mquinn/gatekeep/internal/rules"
	"github.com/mquinn/gatekeep/internal/session"
)

// CardChannels delivers and updates authorization cards.
type CardChannels interface {
	SendCard(ctx context.Context, channelName string, card channel.Card) (bus.MessageRef, error)
	UpdateCard(ctx context.Context, ref bus.MessageRef, text string) error
}

// AlertScheduler arms and disarms escalations.
type AlertScheduler interface {
	Schedule(input alert.ScheduleInput) bool
	Cancel(key string) bool
}

// SubmitRequest is one hook-originated authorization attempt.
type SubmitRequest struct {
	SessionID string         `json:"session_id"`
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Options   []string       `json:"options,omitempty"`
	CWD       string         `json:"cwd,omitempty"`
}

// SubmitResponse reports either an immediate rule decision or the id
// of a newly pending request.
type SubmitResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RuleID    string `json:"rule_id,omitempty"`
}

// PollResponse is one poll observation of a request.
type PollResponse struct {
	Status   string `json:"status"`
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Service orchestrates the authorization flow between the HTTP
// surface, the stores, the chat channels, and the alert scheduler.
type Service struct {
	cfg      *config.Config
	requests *authorize.Store
	rules    *rules.Store
	resolver *authorize.Resolver
	channels CardChannels
	alerts   AlertScheduler
	bindings *session.Store
	audit    *audit.Writer
	metrics  *metrics.RuntimeMetrics
	msgBus   *bus.MessageBus
}

// NewService wires the orchestrator. channels, alerts, bindings, audit
// and metrics may be nil in reduced setups.
func NewService(
	cfg *config.Config,
	requests *authorize.Store,
	ruleStore *rules.Store,
	resolver *authorize.Resolver,
	channels CardChannels,
	alerts AlertScheduler,
	bindings *session.Store,
	auditLog *audit.Writer,
	recorder *metrics.RuntimeMetrics,
	msgBus *bus.MessageBus,
) *Service {
	return &Service{
		cfg:      cfg,
		requests: requests,
		rules:    ruleStore,
		resolver: resolver,
		channels: channels,
		alerts:   alerts,
		bindings: bindings,
		audit:    auditLog,
		metrics:  recorder,
		msgBus:   msgBus,
	}
}

// SubmitAuthorization checks stored rules first and otherwise creates
// a pending request, delivers its card, and arms the escalation.
func (s *Service) SubmitAuthorization(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	tool := strings.TrimSpace(req.Tool)
	if tool == "" {
		return SubmitResponse{}, fmt.Errorf("tool is required")
	}

	command := commandFromInput(req.ToolInput)
	if rule := s.rules.Match(tool, command, req.CWD); rule != nil {
		s.audit.AutoAllowed(tool, command, rule.ID)
		s.metrics.RecordAutoAllowed()
		slog.Info("request auto-allowed by rule",
			"tool", tool,
			"rule_id", rule.ID,
			"pattern", rule.CommandPattern,
		)
		return SubmitResponse{
			Status:   string(authorize.StatusResolved),
			Decision: string(authorize.DecisionAllow),
			Reason:   "auto_allowed",
			RuleID:   rule.ID,
		}, nil
	}

	created := s.requests.Create(authorize.CreateInput{
		SessionID: req.SessionID,
		Tool:      tool,
		ToolInput: req.ToolInput,
		Options:   req.Options,
		CWD:       req.CWD,
	})
	s.audit.RequestCreated(created.ID, created.Tool, created.Command)
	s.metrics.RecordRequestCreated()

	s.deliverCard(ctx, created)

	return SubmitResponse{
		RequestID: created.ID,
		Status:    string(authorize.StatusPending),
	}, nil
}

// deliverCard is best effort. A request whose card cannot be delivered
// stays pending and ages out through the normal TTL.
func (s *Service) deliverCard(ctx context.Context, req *authorize.Request) {
	if s.channels == nil {
		return
	}

	route, ok := s.route(req.CWD)
	if !ok {
		slog.Warn("no delivery route for request", "request_id", req.ID, "cwd", req.CWD)
		return
	}

	card, err := s.buildCard(route.ChatID, req)
	if err != nil {
		slog.Error("build card failed", "request_id", req.ID, "error", err)
		return
	}

	ref, err := s.channels.SendCard(ctx, route.Channel, card)
	if err != nil {
		slog.Error("card delivery failed", "request_id", req.ID, "channel", route.Channel, "error", err)
		return
	}
	s.requests.AttachMessageRef(req.ID, ref)

	if s.alerts != nil && s.cfg.Alerts.Enabled {
		armed := s.alerts.Schedule(alert.ScheduleInput{
			Key:        ref.Key(),
			Channel:    route.Channel,
			ChatID:     route.ChatID,
			OperatorID: route.OperatorID,
			SessionID:  req.SessionID,
			Kind:       alert.KindAuthorization,
			Delay:      time.Duration(s.cfg.Alerts.AuthorizationDelayMin) * time.Minute,
		})
		if armed {
			s.metrics.RecordAlert("scheduled")
		}
	}

	// Keep the binding fresh so later requests and task notifications
	// for this project route the same way.
	if s.bindings != nil && req.CWD != "" {
		if err := s.bindings.Bind(session.Binding{
			ProjectPath: req.CWD,
			Channel:     route.Channel,
			ChatID:      route.ChatID,
			OperatorID:  route.OperatorID,
			SessionID:   req.SessionID,
		}); err != nil {
			slog.Warn("binding update failed", "cwd", req.CWD, "error", err)
		}
	}
}

// Poll reports the current status of a request. The bool is false when
// the id is unknown.
func (s *Service) Poll(requestID string) (PollResponse, bool) {
	req := s.requests.Get(requestID)
	if req == nil {
		return PollResponse{}, false
	}
	resp := PollResponse{Status: string(req.Status)}
	if req.Status == authorize.StatusResolved {
		resp.Decision = string(req.Decision)
		resp.Reason = req.DecisionReason
	}
	return resp, true
}

// InjectAction runs a card action through the resolver on behalf of a
// local caller, bypassing the chat platforms.
func (s *Service) InjectAction(value string) authorize.Ack {
	ack := s.resolver.HandleAction(&bus.CardAction{
		Value:     value,
		Timestamp: time.Now(),
		RequestID: bus.NewRequestID(),
	})
	s.recordAck(ack)
	return ack
}

// NotifyTaskComplete tells the operator a session finished and arms a
// delayed reminder in case nobody reacts.
func (s *Service) NotifyTaskComplete(ctx context.Context, sessionID, cwd string) error {
	route, ok := s.route(cwd)
	if !ok {
		return fmt.Errorf("no delivery route for task notification")
	}

	content := fmt.Sprintf("✅ Task finished in session %s.", sessionID)
	if s.msgBus != nil {
		s.msgBus.PublishOutbound(&bus.OutboundMessage{
			Channel:   route.Channel,
			ChatID:    route.ChatID,
			Content:   content,
			RequestID: bus.NewRequestID(),
		})
	}

	if s.alerts != nil && s.cfg.Alerts.Enabled {
		armed := s.alerts.Schedule(alert.ScheduleInput{
			Key:        "task:" + sessionID,
			Channel:    route.Channel,
			ChatID:     route.ChatID,
			OperatorID: route.OperatorID,
			SessionID:  sessionID,
			Kind:       alert.KindTaskComplete,
			Delay:      time.Duration(s.cfg.Alerts.TaskCompleteDelayMin) * time.Minute,
		})
		if armed {
			s.metrics.RecordAlert("scheduled")
		}
	}
	return nil
}

// RunActionLoop drains button clicks from the bus, resolves them, and
// pushes acknowledgment card updates back to the platform.
func (s *Service) RunActionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-s.msgBus.Actions():
			if !ok {
				return
			}
			if action == nil {
				continue
			}
			ack := s.resolver.HandleAction(action)
			s.recordAck(ack)

			if s.channels != nil && !action.Ref.IsZero() && ack.Text != "" {
				if err := s.channels.UpdateCard(ctx, action.Ref, ack.Text); err != nil {
					slog.Warn("card update failed",
						"channel", action.Ref.Channel,
						"message_id", action.Ref.MessageID,
						"error", err,
					)
				}
			}
		}
	}
}

func (s *Service) recordAck(ack authorize.Ack) {
	if ack.Kind != authorize.AckResolved || s.metrics == nil {
		return
	}
	latency := time.Duration(0)
	if req := s.requests.Get(ack.RequestID); req != nil {
		latency = ack.ResolvedAt.Sub(req.CreatedAt)
	}
	s.metrics.RecordDecision(ack.Decision == authorize.DecisionAllow, latency)
}

type deliveryRoute struct {
	Channel    string
	ChatID     string
	OperatorID string
}

// route picks the delivery target for a working directory: its stored
// binding, then the most recent binding, then the configured channels.
func (s *Service) route(cwd string) (deliveryRoute, bool) {
	if s.bindings != nil {
		if b, ok := s.bindings.Lookup(cwd); ok {
			return deliveryRoute{Channel: b.Channel, ChatID: b.ChatID, OperatorID: b.OperatorID}, true
		}
		if b, ok := s.bindings.Last(); ok {
			return deliveryRoute{Channel: b.Channel, ChatID: b.ChatID, OperatorID: b.OperatorID}, true
		}
	}

	tg := s.cfg.Channels.Telegram
	if tg.Enabled && tg.ChatID != "" {
		return deliveryRoute{Channel: "telegram", ChatID: tg.ChatID, OperatorID: tg.OperatorID}, true
	}
	sl := s.cfg.Channels.Slack
	if sl.Enabled && sl.ChannelID != "" {
		return deliveryRoute{Channel: "slack", ChatID: sl.ChannelID, OperatorID: sl.OperatorID}, true
	}
	return deliveryRoute{}, false
}

func (s *Service) buildCard(chatID string, req *authorize.Request) (channel.Card, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "🔐 **Authorization needed**\n")
	fmt.Fprintf(&b, "Tool: `%s`\n", req.Tool)
	if req.Command != "" {
		fmt.Fprintf(&b, "Command: `%s`\n", req.Command)
	}
	if req.CWD != "" {
		fmt.Fprintf(&b, "Directory: `%s`\n", req.CWD)
	}
	if req.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", req.SessionID)
	}

	buttons := make([]channel.Button, 0, len(req.Options))
	for _, label := range req.Options {
		payload, err := json.Marshal(authorize.ActionPayload{
			RequestID: req.ID,
			Action:    label,
			SessionID: req.SessionID,
		})
		if err != nil {
			return channel.Card{}, fmt.Errorf("encode action payload: %w", err)
		}
		buttons = append(buttons, channel.Button{Label: label, Value: string(payload)})
	}

	return channel.Card{
		ChatID:  chatID,
		Text:    b.String(),
		Buttons: buttons,
	}, nil
}

func commandFromInput(toolInput map[string]any) string {
	if toolInput == nil {
		return ""
	}
	if raw, ok := toolInput["command"].(string); ok {
		return strings.TrimSpace(raw)
	}
	return ""
}
