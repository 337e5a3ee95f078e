package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mquinn/gatekeep/internal/bus"
	"github.com/mquinn/gatekeep/internal/channel"
	"github.com/mquinn/gatekeep/internal/config"
)

var (
	boldStarRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__(.+?)__`)
	codeInlineRe = regexp.MustCompile("`([^`]+)`")
)

// Cards that never get clicked are evicted after this long; clicks on
// an evicted card fall back to raw-data passthrough, same as after a
// restart.
const cardRetention = time.Hour

type storedCard struct {
	buttons  []channel.Button
	storedAt time.Time
}

// Channel implements Telegram bot.
type Channel struct {
	channel.BaseChannel
	cfg *config.TelegramConfig
	bot *tgbotapi.BotAPI
	now func() time.Time

	// Callback data is capped at 64 bytes by the platform, so buttons
	// carry an index and the full action values are kept here per
	// delivered card until the card is acknowledged or ages out.
	mu    sync.Mutex
	cards map[string]storedCard
}

// New creates a Telegram channel.
func New(cfg *config.TelegramConfig, msgBus *bus.MessageBus) *Channel {
	allowList := make(map[string]bool)
	for _, id := range cfg.AllowFrom {
		allowList[id] = true
	}
	return &Channel{
		BaseChannel: channel.BaseChannel{
			Bus:       msgBus,
			AllowList: allowList,
		},
		cfg:   cfg,
		now:   time.Now,
		cards: make(map[string]storedCard),
	}
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	c.bot = bot

	slog.Info("telegram bot connected", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				c.handleCallback(update.CallbackQuery)
			}
		}
	}
}

func (c *Channel) handleCallback(query *tgbotapi.CallbackQuery) {
	if query.From == nil || query.Message == nil {
		return
	}
	senderID := fmt.Sprintf("%d", query.From.ID)
	if !c.IsAllowed(senderID) {
		slog.Debug("unauthorized callback sender", "id", senderID)
		return
	}

	ref := bus.MessageRef{
		Channel:   c.Name(),
		ChatID:    fmt.Sprintf("%d", query.Message.Chat.ID),
		MessageID: fmt.Sprintf("%d", query.Message.MessageID),
	}

	// Dismiss the platform's loading spinner regardless of outcome.
	if c.bot != nil {
		if _, err := c.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			slog.Debug("telegram callback ack failed", "error", err)
		}
	}

	c.PublishAction(&bus.CardAction{
		Ref:        ref,
		OperatorID: senderID,
		Value:      c.resolveValue(ref, query.Data),
		Timestamp:  time.Now(),
		RequestID:  bus.NewRequestID(),
	})
}

// resolveValue maps "idx:N" callback data back to the stored action
// value. Unknown cards (for example after a restart) yield the raw
// data, which downstream handling treats as malformed.
func (c *Channel) resolveValue(ref bus.MessageRef, data string) string {
	idxStr, ok := strings.CutPrefix(data, "idx:")
	if !ok {
		return data
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return data
	}

	c.mu.Lock()
	card := c.cards[ref.Key()]
	c.mu.Unlock()
	if idx < 0 || idx >= len(card.buttons) {
		return data
	}
	return card.buttons[idx].Value
}

// rememberCard stores a delivered card's button values and drops cards
// old enough that nobody will click them anymore, so unacknowledged
// cards do not accumulate for the process lifetime.
func (c *Channel) rememberCard(ref bus.MessageRef, buttons []channel.Button) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, card := range c.cards {
		if now.Sub(card.storedAt) > cardRetention {
			delete(c.cards, key)
		}
	}
	c.cards[ref.Key()] = storedCard{buttons: buttons, storedAt: now}
}

func (c *Channel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("bot not initialized")
	}

	chatID, err := parseInt64(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	tgMsg := tgbotapi.NewMessage(chatID, markdownToHTML(msg.Content))
	tgMsg.ParseMode = "HTML"

	_, err = c.bot.Send(tgMsg)
	if err != nil {
		tgMsg.ParseMode = ""
		tgMsg.Text = msg.Content
		_, err = c.bot.Send(tgMsg)
	}
	return err
}

func (c *Channel) SendCard(ctx context.Context, card channel.Card) (bus.MessageRef, error) {
	if c.bot == nil {
		return bus.MessageRef{}, fmt.Errorf("bot not initialized")
	}

	chatID, err := parseInt64(card.ChatID)
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("invalid chat id %q: %w", card.ChatID, err)
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(card.Buttons))
	for i, button := range card.Buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(button.Label, fmt.Sprintf("idx:%d", i)),
		))
	}

	tgMsg := tgbotapi.NewMessage(chatID, markdownToHTML(card.Text))
	tgMsg.ParseMode = "HTML"
	tgMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	sent, err := c.bot.Send(tgMsg)
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("send telegram card: %w", err)
	}

	ref := bus.MessageRef{
		Channel:   c.Name(),
		ChatID:    card.ChatID,
		MessageID: fmt.Sprintf("%d", sent.MessageID),
	}

	c.rememberCard(ref, card.Buttons)

	return ref, nil
}

func (c *Channel) UpdateCard(ctx context.Context, ref bus.MessageRef, text string) error {
	if c.bot == nil {
		return fmt.Errorf("bot not initialized")
	}

	chatID, err := parseInt64(ref.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", ref.ChatID, err)
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", ref.MessageID, err)
	}

	// Editing the text drops the inline keyboard, which is exactly what
	// an acknowledged card should look like.
	edit := tgbotapi.NewEditMessageText(chatID, messageID, markdownToHTML(text))
	edit.ParseMode = "HTML"
	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("update telegram card: %w", err)
	}

	c.mu.Lock()
	delete(c.cards, ref.Key())
	c.mu.Unlock()
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func markdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	text = codeInlineRe.ReplaceAllString(text, "<code>$1</code>")
	return text
}
