package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

// ErrConfig marks a missing or invalid setting. The bot refuses to start on it.
var ErrConfig = errors.New("invalid configuration")

type Config struct {
	DiscordToken        string `hcl:"discord_token" env:"DISCORD_TOKEN" required:"true"`
	DatabaseURL         string `hcl:"database_url" env:"DATABASE_URL" required:"true"`
	ReactionRequirement int    `hcl:"reaction_requirement" env:"REACTION_REQUIREMENT" required:"true"`
	StarboardChannelID  string `hcl:"starboard_channel_id" env:"STARBOARD_CHANNEL_ID" required:"true"`
	GuildID             string `hcl:"guild_id" env:"GUILD_ID"`

	StarboardEmoji       string        `hcl:"starboard_emoji" env:"STARBOARD_EMOJI"`
	StarboardUpdatePosts bool          `hcl:"starboard_update_posts" env:"STARBOARD_UPDATE_POSTS" default:"true"`
	StarboardMaxAge      time.Duration `hcl:"starboard_max_age" env:"STARBOARD_MAX_AGE" default:"0s"`

	AnnouncementRSSURLs       string        `hcl:"announcement_rss_urls" env:"ANNOUNCEMENT_RSS_URLS"`
	AnnouncementCheckInterval int           `hcl:"announcement_check_interval" env:"ANNOUNCEMENT_CHECK_INTERVAL" required:"true"`
	AnnouncementSkipBacklog   bool          `hcl:"announcement_skip_backlog" env:"ANNOUNCEMENT_SKIP_BACKLOG"`
	AnnouncementFetchLinked   bool          `hcl:"announcement_fetch_linked" env:"ANNOUNCEMENT_FETCH_LINKED"`
	FeedParser                string        `hcl:"feed_parser" env:"FEED_PARSER" default:"gofeed"`
	FetchTimeout              time.Duration `hcl:"fetch_timeout" env:"FETCH_TIMEOUT" default:"30s"`

	LogLevel   string `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
	HealthAddr string `hcl:"health_addr" env:"HEALTH_ADDR"`

	TelegramBotToken    string `hcl:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatID int64  `hcl:"telegram_admin_chat_id" env:"TELEGRAM_ADMIN_CHAT_ID"`

	AIType    string        `hcl:"ai_type" env:"AI_TYPE"`
	AIBaseURL string        `hcl:"ai_base_url" env:"AI_BASE_URL"`
	AIKey     string        `hcl:"ai_key" env:"AI_KEY"`
	AIPrompt  string        `hcl:"ai_prompt" env:"AI_PROMPT" default:"Summarize this course announcement in a few sentences."`
	AIModel   string        `hcl:"ai_model" env:"AI_MODEL" default:"llama3"`
	AITimeout time.Duration `hcl:"ai_timeout" env:"AI_TIMEOUT" default:"2m"`
}

// Feeds returns the targets listed in AnnouncementRSSURLs. Load has already
// rejected malformed lines.
func (c Config) Feeds() []model.FeedTarget {
	feeds, _ := ParseFeedTargets(c.AnnouncementRSSURLs)
	return feeds
}

// CheckInterval returns the announcement poll period.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.AnnouncementCheckInterval) * time.Second
}

var (
	cfg     Config
	loadErr error
	once    sync.Once
)

var defaultFiles = []string{"./config.hcl", "./config.local.hcl", "$HOME/.config/chess-bot/config.hcl"}

// Get loads the configuration once and returns it on every call.
func Get() (Config, error) {
	once.Do(func() {
		cfg, loadErr = Load(defaultFiles...)
	})

	return cfg, loadErr
}

// Load reads the environment and the given HCL files and validates the result.
func Load(files ...string) (Config, error) {
	var c Config

	loader := aconfig.LoaderFor(&c, aconfig.Config{
		SkipFlags:          true,
		AllowUnknownEnvs:   true,
		AllowUnknownFields: true,
		Files:              files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DiscordToken) == "" {
		return fmt.Errorf("%w: DISCORD_TOKEN is empty", ErrConfig)
	}
	if c.ReactionRequirement < 0 {
		return fmt.Errorf("%w: REACTION_REQUIREMENT must be non-negative, got %d", ErrConfig, c.ReactionRequirement)
	}
	if c.AnnouncementCheckInterval <= 0 {
		return fmt.Errorf("%w: ANNOUNCEMENT_CHECK_INTERVAL must be positive, got %d", ErrConfig, c.AnnouncementCheckInterval)
	}
	if err := checkSnowflake("STARBOARD_CHANNEL_ID", c.StarboardChannelID); err != nil {
		return err
	}
	if c.GuildID != "" {
		if err := checkSnowflake("GUILD_ID", c.GuildID); err != nil {
			return err
		}
	}
	switch c.FeedParser {
	case "gofeed", "rss":
	default:
		return fmt.Errorf("%w: FEED_PARSER must be \"gofeed\" or \"rss\", got %q", ErrConfig, c.FeedParser)
	}
	switch c.AIType {
	case "":
	case "openai":
		if c.AIKey == "" {
			return fmt.Errorf("%w: AI_KEY is required when AI_TYPE is \"openai\"", ErrConfig)
		}
	case "ollama":
		if c.AIBaseURL == "" {
			return fmt.Errorf("%w: AI_BASE_URL is required when AI_TYPE is \"ollama\"", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown AI_TYPE %q", ErrConfig, c.AIType)
	}

	if _, err := ParseFeedTargets(c.AnnouncementRSSURLs); err != nil {
		return err
	}

	return nil
}

// ParseFeedTargets parses newline-separated "feed_url,channel_id[,role_id]" lines.
// Blank lines are ignored.
func ParseFeedTargets(raw string) ([]model.FeedTarget, error) {
	var targets []model.FeedTarget

	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: ANNOUNCEMENT_RSS_URLS line %d: want url,channel_id[,role_id]", ErrConfig, i+1)
		}
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}

		target := model.FeedTarget{URL: parts[0], ChannelID: parts[1]}
		if u, err := url.Parse(target.URL); err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, fmt.Errorf("%w: ANNOUNCEMENT_RSS_URLS line %d: %q is not an https URL", ErrConfig, i+1, target.URL)
		}
		if err := checkSnowflake("ANNOUNCEMENT_RSS_URLS channel", target.ChannelID); err != nil {
			return nil, err
		}
		if len(parts) == 3 && parts[2] != "" {
			if err := checkSnowflake("ANNOUNCEMENT_RSS_URLS role", parts[2]); err != nil {
				return nil, err
			}
			target.RoleID = parts[2]
		}

		targets = append(targets, target)
	}

	return targets, nil
}

func checkSnowflake(name, value string) error {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return fmt.Errorf("%w: %s must be a Discord ID, got %q", ErrConfig, name, value)
	}
	return nil
}
