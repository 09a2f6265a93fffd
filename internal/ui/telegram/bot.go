package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

// TelegramUI lets the admin decide review items from Telegram and receives
// the agent's transient failures.
type TelegramUI struct {
	Bot      *tgbotapi.BotAPI
	ChatID   int64
	channels map[int]chan ports.UserAction
	mu       sync.Mutex
}

func NewTelegramUI(token string, chatIDStr string) (*TelegramUI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}

	ui := &TelegramUI{
		Bot:      bot,
		ChatID:   chatID,
		channels: make(map[int]chan ports.UserAction),
	}

	go ui.listen()
	return ui, nil
}

var (
	_ ports.Interaction = (*TelegramUI)(nil)
	_ ports.Notifier    = (*TelegramUI)(nil)
)

func (ui *TelegramUI) listen() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := ui.Bot.GetUpdatesChan(u)

	for update := range updates {
		cb := update.CallbackQuery
		if cb == nil || cb.Message == nil {
			continue
		}
		action := ports.UserAction(cb.Data)
		if !ui.resolve(cb.Message.MessageID, action) {
			ui.Bot.Request(tgbotapi.NewCallback(cb.ID, "This review is no longer open"))
			continue
		}
		ui.Bot.Request(tgbotapi.NewCallback(cb.ID, "Selected: "+string(action)))
		ui.Bot.Send(tgbotapi.NewEditMessageReplyMarkup(ui.ChatID, cb.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}))
	}
}

// resolve hands action to the Confirm call waiting on msgID, if any.
func (ui *TelegramUI) resolve(msgID int, action ports.UserAction) bool {
	ui.mu.Lock()
	ch, ok := ui.channels[msgID]
	delete(ui.channels, msgID)
	ui.mu.Unlock()
	if !ok {
		return false
	}
	switch action {
	case ports.ActionApprove, ports.ActionReject:
	default:
		action = ports.ActionSkip
	}
	ch <- action
	return true
}

// await registers a reply slot for msgID.
func (ui *TelegramUI) await(msgID int) chan ports.UserAction {
	ch := make(chan ports.UserAction, 1)
	ui.mu.Lock()
	ui.channels[msgID] = ch
	ui.mu.Unlock()
	return ch
}

func (ui *TelegramUI) forget(msgID int) {
	ui.mu.Lock()
	delete(ui.channels, msgID)
	ui.mu.Unlock()
}

// Stop ends the long-poll loop.
func (ui *TelegramUI) Stop() {
	ui.Bot.StopReceivingUpdates()
}

func (ui *TelegramUI) Confirm(ctx context.Context, title, body string) (ports.UserAction, error) {
	msgText := fmt.Sprintf("*[%s]*\n\n%s", escapeMarkdown(title), escapeMarkdown(body))
	msg := tgbotapi.NewMessage(ui.ChatID, msgText)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", string(ports.ActionApprove)),
			tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", string(ports.ActionSkip)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", string(ports.ActionReject)),
		),
	)

	sentMsg, err := ui.Bot.Send(msg)
	if err != nil {
		return ports.ActionSkip, err
	}

	reply := ui.await(sentMsg.MessageID)
	select {
	case action := <-reply:
		return action, nil
	case <-ctx.Done():
		ui.forget(sentMsg.MessageID)
		return ports.ActionSkip, ctx.Err()
	}
}

// Notify forwards failures only; successful updates would flood the chat.
func (ui *TelegramUI) Notify(ctx context.Context, ev domain.EngagementEvent) {
	text := noticeText(ev)
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(ui.ChatID, escapeMarkdown(text))
	msg.ParseMode = tgbotapi.ModeMarkdown
	ui.Bot.Send(msg)
}

func noticeText(ev domain.EngagementEvent) string {
	switch ev.Kind {
	case domain.EventActionFailed:
		reason := "unknown error"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		if errors.Is(ev.Err, context.DeadlineExceeded) {
			reason = "the server did not answer in time"
		}
		return fmt.Sprintf("⚠️ Reaction on post %s was rolled back: %s", ev.PostID, reason)
	case domain.EventSessionExpired:
		return "🔒 ARDU session expired. Log in again to resume."
	}
	return ""
}

// escapeMarkdown keeps legacy Markdown parsing from choking on user text.
func escapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
