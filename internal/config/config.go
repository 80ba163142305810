// Package config loads the engine configuration: process settings, channel
// credentials, and the authority directory and rule table data.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	ent "CivicAlertManager/internal/entity"
)

const EnvPrefix = "CIVIC"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Engine        EngineConfig        `mapstructure:"engine"`
	ReportService ReportServiceConfig `mapstructure:"report_service"`
	Log           LogConfig           `mapstructure:"log"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Channels      ChannelsConfig      `mapstructure:"channels"`
	Authorities   []AuthorityConfig   `mapstructure:"authorities"`
	Rules         []RuleConfig        `mapstructure:"rules"`

	// file is where the configuration was read from; reloads read it again.
	file string
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type EngineConfig struct {
	DefaultAuthority  string        `mapstructure:"default_authority"`
	StatusTimeout     time.Duration `mapstructure:"status_timeout"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	WorkloadThreshold int           `mapstructure:"workload_threshold"`
	Timezone          string        `mapstructure:"timezone"`
}

type ReportServiceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Subject        string        `mapstructure:"subject"`
	Name           string        `mapstructure:"name"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	SMS      SMSConfig      `mapstructure:"sms"`
	Push     PushConfig     `mapstructure:"push"`
}

type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	AdminChatID int64  `mapstructure:"admin_chat_id"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SMSConfig struct {
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	ClientID    string        `mapstructure:"client_id"`
	Sender      string        `mapstructure:"sender"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryWait   time.Duration `mapstructure:"retry_wait"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PushConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

type AuthorityConfig struct {
	ID               string            `mapstructure:"id"`
	Name             string            `mapstructure:"name"`
	Jurisdiction     string            `mapstructure:"jurisdiction"`
	Responsibilities []string          `mapstructure:"responsibilities"`
	Contacts         map[string]string `mapstructure:"contacts"`
	Tier             int               `mapstructure:"tier"`
	TargetResponse   time.Duration     `mapstructure:"target_response"`
	Availability     string            `mapstructure:"availability"`
	DutyHours        []ent.DutyWindow  `mapstructure:"duty_hours"`
}

type RuleConfig struct {
	IssueType string        `mapstructure:"issue_type"`
	Severity  string        `mapstructure:"severity"`
	Primary   string        `mapstructure:"primary"`
	Chain     []string      `mapstructure:"chain"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Channels  []string      `mapstructure:"channels"`
	// AutoEscalate defaults to true when omitted.
	AutoEscalate *bool `mapstructure:"auto_escalate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8082")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("database.path", "civic-alerts.db")
	v.SetDefault("engine.default_authority", "")
	v.SetDefault("engine.status_timeout", "2s")
	v.SetDefault("engine.send_timeout", "10s")
	v.SetDefault("engine.retry_delay", "30s")
	v.SetDefault("engine.workload_threshold", 20)
	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("report_service.url", "")
	v.SetDefault("report_service.timeout", "2s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "civic.alerts.exhausted")

	// Secrets have empty defaults so environment overrides are picked up.
	v.SetDefault("channels.telegram.bot_token", "")
	v.SetDefault("channels.smtp.password", "")
	v.SetDefault("channels.sms.token", "")
}

// Load reads config.yaml from path, which may be the file itself or the
// directory holding it. An empty path searches ./config and the working
// directory. Environment variables prefixed with CIVIC_ override file values,
// e.g. CIVIC_ENGINE_STATUS_TIMEOUT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ent.ErrInvalidConfig, err)
	}
	cfg.file = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File returns the path the configuration was loaded from.
func (c *Config) File() string {
	return c.file
}

// Validate checks settings and cross-references between rules and
// authorities.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.StatusTimeout <= 0 {
		errs = append(errs, errors.New("engine.status_timeout must be positive"))
	}
	if c.Engine.SendTimeout <= 0 {
		errs = append(errs, errors.New("engine.send_timeout must be positive"))
	}
	if c.Engine.RetryDelay <= 0 {
		errs = append(errs, errors.New("engine.retry_delay must be positive"))
	}
	if c.Engine.WorkloadThreshold <= 0 {
		errs = append(errs, errors.New("engine.workload_threshold must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	authorities, err := c.AuthorityRecords()
	if err != nil {
		errs = append(errs, err)
	}
	known := make(map[string]bool, len(authorities))
	for _, a := range authorities {
		known[a.ID] = true
	}

	rules, err := c.AlertRules()
	if err != nil {
		errs = append(errs, err)
	}
	hasGlobal := false
	for _, r := range rules {
		if r.Key == ent.GlobalDefaultKey {
			hasGlobal = true
		}
		if r.Primary != ent.AutoPrimary && !known[r.Primary] {
			errs = append(errs, fmt.Errorf("rule %s: unknown primary authority %q", r.Key, r.Primary))
		}
		for _, id := range r.Chain {
			if !known[id] {
				errs = append(errs, fmt.Errorf("rule %s: unknown chain authority %q", r.Key, id))
			}
		}
		if r.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("rule %s: timeout must be positive", r.Key))
		}
		if len(r.Channels) == 0 {
			errs = append(errs, fmt.Errorf("rule %s: at least one channel is required", r.Key))
		}
	}
	if !hasGlobal {
		errs = append(errs, fmt.Errorf("missing global default rule %s", ent.GlobalDefaultKey))
	}
	if d := c.Engine.DefaultAuthority; d != "" && !known[d] {
		errs = append(errs, fmt.Errorf("engine.default_authority %q is not a known authority", d))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ent.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Location is the time zone duty hours and message timestamps use.
func (c *Config) Location() (*time.Location, error) {
	name := c.Engine.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	return loc, nil
}

// AuthorityRecords converts the directory section to entity records.
func (c *Config) AuthorityRecords() ([]ent.Authority, error) {
	out := make([]ent.Authority, 0, len(c.Authorities))
	for _, ac := range c.Authorities {
		if ac.ID == "" {
			return nil, errors.New("authority without id")
		}

		contacts := make(map[ent.Channel]string, len(ac.Contacts))
		for name, addr := range ac.Contacts {
			ch, err := ent.ParseChannel(name)
			if err != nil {
				return nil, fmt.Errorf("authority %q: %w", ac.ID, err)
			}
			contacts[ch] = addr
		}

		availability := ent.Available
		if ac.Availability != "" {
			a, err := ent.ParseAvailability(ac.Availability)
			if err != nil {
				return nil, fmt.Errorf("authority %q: %w", ac.ID, err)
			}
			availability = a
		}

		out = append(out, ent.Authority{
			ID:               ac.ID,
			Name:             ac.Name,
			Jurisdiction:     ac.Jurisdiction,
			Responsibilities: ac.Responsibilities,
			Contacts:         contacts,
			Tier:             ac.Tier,
			TargetResponse:   ac.TargetResponse,
			Availability:     availability,
			DutyHours:        ac.DutyHours,
		})
	}
	return out, nil
}

// AlertRules converts the rules section to entity rules.
func (c *Config) AlertRules() ([]ent.AlertRule, error) {
	out := make([]ent.AlertRule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		key := ent.NewRuleKey(rc.IssueType, rc.Severity)
		channels := make([]ent.Channel, 0, len(rc.Channels))
		for _, name := range rc.Channels {
			ch, err := ent.ParseChannel(name)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", key, err)
			}
			channels = append(channels, ch)
		}

		auto := true
		if rc.AutoEscalate != nil {
			auto = *rc.AutoEscalate
		}
		out = append(out, ent.AlertRule{
			Key:          key,
			Primary:      rc.Primary,
			Chain:        rc.Chain,
			Timeout:      rc.Timeout,
			Channels:     channels,
			AutoEscalate: auto,
		})
	}
	return out, nil
}
