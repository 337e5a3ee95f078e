package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mquinn/gatekeep/internal/bus"
	"github.com/mquinn/gatekeep/internal/channel"
	"github.com/mquinn/gatekeep/internal/config"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

const actionBlockID = "authorization_actions"

// Channel implements Slack Socket Mode channel.
type Channel struct {
	channel.BaseChannel
	cfg          *config.SlackConfig
	api          *slack.Client
	socketClient *socketmode.Client
	botUserID    string

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Slack channel.
func New(cfg *config.SlackConfig, msgBus *bus.MessageBus) *Channel {
	allowList := make(map[string]bool)
	for _, id := range cfg.AllowFrom {
		allowList[id] = true
	}
	return &Channel{
		BaseChannel: channel.BaseChannel{Bus: msgBus, AllowList: allowList},
		cfg:         cfg,
	}
}

func (c *Channel) Name() string { return "slack" }

func (c *Channel) Start(ctx context.Context) error {
	if c.cfg == nil {
		return fmt.Errorf("missing slack config")
	}
	if strings.TrimSpace(c.cfg.BotToken) == "" || strings.TrimSpace(c.cfg.AppToken) == "" {
		return fmt.Errorf("slack bot_token and app_token are required")
	}

	api := slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	socketClient := socketmode.New(api)

	c.mu.Lock()
	c.api = api
	c.socketClient = socketClient
	c.botUserID = authResp.UserID
	c.running = true
	c.ctx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	go c.eventLoop()
	go func() {
		if err := socketClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode exited", "error", err)
		}
	}()

	slog.Info("slack channel connected", "team", authResp.Team, "bot_user_id", authResp.UserID)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	c.socketClient = nil
	c.api = nil
	c.mu.Unlock()
	return nil
}

func (c *Channel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	api, running := c.client()
	if !running {
		return fmt.Errorf("slack channel not running")
	}

	channelID, threadTS := parseChatID(msg.ChatID)
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("invalid slack chat id: %q", msg.ChatID)
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, _, err := api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	return nil
}

func (c *Channel) SendCard(ctx context.Context, card channel.Card) (bus.MessageRef, error) {
	api, running := c.client()
	if !running {
		return bus.MessageRef{}, fmt.Errorf("slack channel not running")
	}

	channelID, threadTS := parseChatID(card.ChatID)
	if strings.TrimSpace(channelID) == "" {
		return bus.MessageRef{}, fmt.Errorf("invalid slack chat id: %q", card.ChatID)
	}

	opts := []slack.MsgOption{
		slack.MsgOptionText(card.Text, false),
		slack.MsgOptionBlocks(cardBlocks(card)...),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, ts, err := api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("send slack card: %w", err)
	}

	return bus.MessageRef{
		Channel:   c.Name(),
		ChatID:    channelID,
		MessageID: ts,
	}, nil
}

func (c *Channel) UpdateCard(ctx context.Context, ref bus.MessageRef, text string) error {
	api, running := c.client()
	if !running {
		return fmt.Errorf("slack channel not running")
	}

	// Replacing the blocks with a single section drops the buttons.
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
		nil, nil,
	)
	_, _, _, err := api.UpdateMessageContext(ctx, ref.ChatID, ref.MessageID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(section),
	)
	if err != nil {
		return fmt.Errorf("update slack card: %w", err)
	}
	return nil
}

func (c *Channel) eventLoop() {
	for {
		c.mu.RLock()
		runCtx := c.ctx
		socketClient := c.socketClient
		c.mu.RUnlock()
		if runCtx == nil || socketClient == nil {
			return
		}

		select {
		case <-runCtx.Done():
			return
		case evt, ok := <-socketClient.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeInteractive:
				c.handleInteractive(evt)
			case socketmode.EventTypeEventsAPI:
				// Plain messages carry no decisions; just ack them.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}
}

func (c *Channel) handleInteractive(evt socketmode.Event) {
	c.mu.RLock()
	socketClient := c.socketClient
	c.mu.RUnlock()
	if socketClient != nil && evt.Request != nil {
		socketClient.Ack(*evt.Request)
	}

	callback, ok := evt.Data.(slack.InteractionCallback)
	if !ok || callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	if callback.User.ID == "" || !c.IsAllowed(callback.User.ID) {
		slog.Debug("unauthorized slack interaction", "user", callback.User.ID)
		return
	}
	if len(callback.ActionCallback.BlockActions) == 0 {
		return
	}

	action := callback.ActionCallback.BlockActions[0]
	ref := bus.MessageRef{
		Channel:   c.Name(),
		ChatID:    callback.Channel.ID,
		MessageID: callback.Container.MessageTs,
	}

	c.PublishAction(&bus.CardAction{
		Ref:        ref,
		OperatorID: callback.User.ID,
		Value:      action.Value,
		Timestamp:  time.Now(),
		RequestID:  bus.NewRequestID(),
	})
}

func (c *Channel) client() (*slack.Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api, c.running && c.api != nil
}

func cardBlocks(card channel.Card) []slack.Block {
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, card.Text, false, false),
		nil, nil,
	)

	buttons := make([]slack.BlockElement, 0, len(card.Buttons))
	for i, button := range card.Buttons {
		element := slack.NewButtonBlockElement(
			fmt.Sprintf("action_%d", i),
			button.Value,
			slack.NewTextBlockObject(slack.PlainTextType, button.Label, false, false),
		)
		buttons = append(buttons, element)
	}

	if len(buttons) == 0 {
		return []slack.Block{section}
	}
	return []slack.Block{
		section,
		slack.NewActionBlock(actionBlockID, buttons...),
	}
}

func parseChatID(chatID string) (channelID, threadTS string) {
	parts := strings.SplitN(chatID, "/", 2)
	channelID = parts[0]
	if len(parts) > 1 {
		threadTS = parts[1]
	}
	return
}
