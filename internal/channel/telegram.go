// Package channel contains the confirmation channels that present
// escalated commands to a human and feed the answer back on the
// approval bus.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cmdgate/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram delivers approval prompts to Telegram chats with inline
// Allow/Deny buttons and resolves requests from the button callbacks.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs, also the chats prompts go to
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.ApprovalBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram, begins polling for button callbacks, and
// forwards approval requests from the bus to the allowed chats. Blocks
// until the context is cancelled.
func (t *Telegram) Start(ctx context.Context, approvals domain.ApprovalBus) error {
	t.bus = approvals

	if len(t.allowFrom) == 0 {
		return fmt.Errorf("telegram channel needs at least one allowFrom user id")
	}

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	go t.deliverRequests(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op; the bot stops when Start's context is cancelled.
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) deliverRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-t.bus.Subscribe():
			if !ok {
				return
			}
			t.sendPrompt(req)
		}
	}
}

func (t *Telegram) sendPrompt(req domain.ApprovalRequest) {
	text := fmt.Sprintf("🔒 Command approval needed\n\nCommand:\n`%s`\n\nReason: %s", req.Command, req.Reason)

	for _, chatID := range t.allowFrom {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = t.parseMode
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Allow", "approve:"+req.ID),
				tgbotapi.NewInlineKeyboardButtonData("❌ Deny", "deny:"+req.ID),
			),
		)
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Error("cannot deliver approval prompt", "chat_id", chatID, "request", req.ID, "err", err)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
	}
}

func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	callback := tgbotapi.NewCallback(cq.ID, "")
	_, _ = t.bot.Request(callback)

	if !t.isAllowed(cq.From.ID) {
		t.logger.Warn("unauthorized telegram callback", "user_id", cq.From.ID)
		return
	}

	action, requestID, ok := strings.Cut(cq.Data, ":")
	if !ok || requestID == "" {
		return
	}

	switch action {
	case "approve":
		t.bus.Resolve(domain.ApprovalResolution{RequestID: requestID, Approved: true, Via: "telegram"})
		t.sendMessage(chatID, "✅ Command approved.")
	case "deny":
		t.bus.Resolve(domain.ApprovalResolution{RequestID: requestID, Approved: false, Via: "telegram"})
		t.sendMessage(chatID, "❌ Command denied.")
	default:
		return
	}

	// Remove the buttons so a request cannot be answered twice from the
	// same message.
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Send(edit)
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, "🔒 cmdgate approval bot.\n\nWhen a command needs approval you will get a prompt here with Allow/Deny buttons.\n\nCommands:\n/status - Show bot status")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("🟢 cmdgate\n\nBot: @%s\nYour ID: %d", t.bot.Self.UserName, msg.From.ID))
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit
// handling. Markdown parse errors fall back to plain text.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
