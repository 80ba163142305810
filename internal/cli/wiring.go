package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"CivicAlertManager/internal/app"
	"CivicAlertManager/internal/clock"
	"CivicAlertManager/internal/config"
	ent "CivicAlertManager/internal/entity"
	"CivicAlertManager/internal/repo"
)

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", "", "config file or directory (default ./config/config.yaml)")
}

// NewLogger builds the process logger. Format "console" selects the
// development encoder, anything else JSON.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// catalog holds the two reloadable data sets.
type catalog struct {
	directory *repo.Directory
	rules     *repo.RuleTable
}

func buildCatalog(cfg *config.Config, c clock.Clock) (*catalog, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	authorities, err := cfg.AuthorityRecords()
	if err != nil {
		return nil, err
	}
	rules, err := cfg.AlertRules()
	if err != nil {
		return nil, err
	}

	directory, err := repo.NewDirectory(authorities, c, loc)
	if err != nil {
		return nil, err
	}
	table, err := repo.NewRuleTable(rules)
	if err != nil {
		return nil, err
	}
	return &catalog{directory: directory, rules: table}, nil
}

// reload swaps in the authorities and rules of next. Nothing is replaced when
// either set is invalid.
func (c *catalog) reload(next *config.Config) error {
	authorities, err := next.AuthorityRecords()
	if err != nil {
		return err
	}
	rules, err := next.AlertRules()
	if err != nil {
		return err
	}
	if _, err := repo.NewRuleTable(rules); err != nil {
		return err
	}
	if err := c.directory.Replace(authorities); err != nil {
		return err
	}
	return c.rules.Replace(rules)
}

// buildSenders creates a sender for every channel that has settings. The
// Telegram bot is also returned so its command updates can be served.
func buildSenders(cfg config.ChannelsConfig, logger *zap.Logger) (map[ent.Channel]app.Sender, *repo.TelegramBot, error) {
	senders := make(map[ent.Channel]app.Sender)

	if cfg.SMTP.Host != "" {
		mailer, err := repo.NewSMTPMailer(repo.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, nil, err
		}
		senders[ent.ChannelEmail] = mailer
	}

	if cfg.SMS.URL != "" {
		sms, err := repo.NewSMSGateway(repo.SMSGatewayConfig{
			URL:         cfg.SMS.URL,
			Token:       cfg.SMS.Token,
			ClientID:    cfg.SMS.ClientID,
			Sender:      cfg.SMS.Sender,
			MaxAttempts: cfg.SMS.MaxAttempts,
			RetryWait:   cfg.SMS.RetryWait,
			Timeout:     cfg.SMS.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		senders[ent.ChannelSMS] = sms
	}

	if cfg.Push.URL != "" {
		push, err := repo.NewPushGateway(cfg.Push.URL, cfg.Push.Headers, cfg.Push.Timeout)
		if err != nil {
			return nil, nil, err
		}
		senders[ent.ChannelPush] = push
	}

	var bot *repo.TelegramBot
	if cfg.Telegram.BotToken != "" {
		var err error
		bot, err = repo.NewTelegramBot(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID, logger)
		if err != nil {
			return nil, nil, err
		}
		senders[ent.ChannelChat] = bot
	}

	for _, ch := range []ent.Channel{ent.ChannelEmail, ent.ChannelSMS, ent.ChannelPush, ent.ChannelChat} {
		if _, ok := senders[ch]; !ok {
			logger.Warn("channel not configured, attempts on it will fail", zap.String("channel", string(ch)))
		}
	}
	return senders, bot, nil
}
