package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	tgbotapi "gopkg.in/telegram-bot-api.v4"

	ent "CivicAlertManager/internal/entity"
)

const maxMsgLength = ent.MaxMsgLength

type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChatCommands is what operators can do from the admin chat.
type ChatCommands interface {
	ReportResolved(ctx context.Context, reportID string) error
	SetAvailability(authorityID string, state ent.Availability) error
}

// TelegramBot is the "chat" notification channel. It also serves operator
// commands sent from the admin chat.
type TelegramBot struct {
	Bot         BotAPI
	api         *tgbotapi.BotAPI
	adminChatID int64
	commands    ChatCommands
	logger      *zap.Logger
}

func NewTelegramBot(token string, adminChatID int64, logger *zap.Logger) (*TelegramBot, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	t := NewTelegramBotWithAPI(bot, adminChatID, logger)
	t.api = bot
	return t, nil
}

// NewTelegramBotWithAPI wraps an existing BotAPI, e.g. a test double.
func NewTelegramBotWithAPI(bot BotAPI, adminChatID int64, logger *zap.Logger) *TelegramBot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramBot{
		Bot:         bot,
		adminChatID: adminChatID,
		logger:      logger.With(zap.String("channel", string(ent.ChannelChat))),
	}
}

// SetCommands wires the operator command handler.
func (t *TelegramBot) SetCommands(c ChatCommands) {
	t.commands = c
}

// Send posts message to the chat whose id is address.
func (t *TelegramBot) Send(ctx context.Context, address, reportID, message string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", address, err)
	}
	return t.SendMessage(ctx, chatID, message)
}

// ConfirmsDelivery is true: the Bot API answers with the posted message.
func (t *TelegramBot) ConfirmsDelivery() bool { return true }

func (t *TelegramBot) SendMessage(ctx context.Context, chatID int64, messageText string) error {
	messages := splitLongMessage(messageText)
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		message := tgbotapi.NewMessage(chatID, msg)
		if _, err := t.Bot.Send(message); err != nil {
			t.logger.Warn("error sending message to telegram", zap.Int64("chat_id", chatID), zap.Error(err))
			return err
		}
	}
	return nil
}

func splitLongMessage(message string) []string {
	if len(message) <= maxMsgLength {
		return []string{message}
	}

	var result []string
	for len(message) > maxMsgLength {
		splitIndex := maxMsgLength
		for splitIndex > 0 && message[splitIndex] != '\n' {
			splitIndex--
		}
		if splitIndex == 0 {
			// no newline to break on, cut at the last rune boundary
			splitIndex = maxMsgLength
			for splitIndex > 0 && !utf8.RuneStart(message[splitIndex]) {
				splitIndex--
			}
		}

		result = append(result, message[:splitIndex])
		message = message[splitIndex:]
	}
	result = append(result, message)
	return result
}

// Listen consumes bot updates until ctx is done. It is a no-op for bots built
// without a live API connection.
func (t *TelegramBot) Listen(ctx context.Context) error {
	if t.api == nil {
		<-ctx.Done()
		return nil
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates, err := t.api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("failed to get telegram updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.HandleUpdates(ctx, update)
		}
	}
}

func (t *TelegramBot) HandleUpdates(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if t.adminChatID != 0 && chatID != t.adminChatID {
		t.logger.Warn("ignoring command from non-admin chat", zap.Int64("chat_id", chatID))
		return
	}

	if !update.Message.IsCommand() {
		t.reply(chatID, "Please send a command!")
		return
	}

	var err error
	switch update.Message.Command() {
	case "resolve":
		err = t.handleResolveCommand(ctx, update.Message)
	case "availability":
		err = t.handleAvailabilityCommand(update.Message)
	default:
		t.reply(chatID, "Unknown command")
	}
	if err != nil {
		t.logger.Warn("error handling command",
			zap.String("command", update.Message.Command()), zap.Error(err))
	}
}

func (t *TelegramBot) handleResolveCommand(ctx context.Context, message *tgbotapi.Message) error {
	reportID := strings.TrimSpace(message.CommandArguments())
	if reportID == "" || strings.Contains(reportID, " ") {
		return t.reply(message.Chat.ID, "Usage: /resolve <report_id>")
	}
	if t.commands == nil {
		return t.reply(message.Chat.ID, "Commands are not enabled")
	}
	if err := t.commands.ReportResolved(ctx, reportID); err != nil {
		t.reply(message.Chat.ID, fmt.Sprintf("Failed to resolve %s: %s", reportID, err))
		return err
	}
	return t.reply(message.Chat.ID, fmt.Sprintf("%s Report %s marked resolved", ent.ResolvedEmoji, reportID))
}

func (t *TelegramBot) handleAvailabilityCommand(message *tgbotapi.Message) error {
	parts := strings.Fields(message.CommandArguments())
	if len(parts) != 2 {
		return t.reply(message.Chat.ID, "Usage: /availability <authority_id> <available|busy|unavailable>\nExample: /availability ward-officer busy")
	}
	state, err := ent.ParseAvailability(parts[1])
	if err != nil {
		t.reply(message.Chat.ID, err.Error())
		return err
	}
	if t.commands == nil {
		return t.reply(message.Chat.ID, "Commands are not enabled")
	}
	if err := t.commands.SetAvailability(parts[0], state); err != nil {
		t.reply(message.Chat.ID, fmt.Sprintf("Failed to update %s: %s", parts[0], err))
		return err
	}
	return t.reply(message.Chat.ID, fmt.Sprintf("%s is now %s", parts[0], state))
}

func (t *TelegramBot) reply(chatID int64, text string) error {
	_, err := t.Bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
