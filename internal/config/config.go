// Package config provides configuration loading, validation, and management
// for tgmirror. Values come from defaults, an optional YAML file, a .env file
// and environment variables using "__" as the nesting delimiter
// (for example MIRROR__ADMIN_USER_IDS).
package config

import (
	"slices"
	"time"

	"github.com/go-telegram/bot/models"
)

// Config defines the application configuration parameters for all components.
type Config struct {
	Environment string `mapstructure:"environment" validate:"oneof=development production testing"`
	Debug       bool   `mapstructure:"debug"`
	// EnvFile is the .env file loaded at startup and updated by runtime settings changes.
	EnvFile string `mapstructure:"env_file"`

	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Render    RenderConfig    `mapstructure:"render"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// TelegramConfig holds credentials for the admin bot and the optional user account session.
type TelegramConfig struct {
	BotToken           string `mapstructure:"bot_token"            validate:"required"`
	DropPendingUpdates bool   `mapstructure:"drop_pending_updates"`

	APIID       int    `mapstructure:"api_id"       validate:"gte=0,required_with=APIHash"`
	APIHash     string `mapstructure:"api_hash"     validate:"required_with=APIID"`
	PhoneNumber string `mapstructure:"phone_number"`
	Password    string `mapstructure:"password"`
	SessionName string `mapstructure:"session_name" validate:"required"`
	SessionDir  string `mapstructure:"session_dir"  validate:"required"`

	BotInfo *models.User `mapstructure:"-" validate:"-"` // Populated at runtime via GetMe
}

// UserbotEnabled reports whether MTProto credentials are configured.
func (t TelegramConfig) UserbotEnabled() bool {
	return t.APIID != 0 && t.APIHash != ""
}

// MirrorConfig controls routing, access lists and delivery pacing.
type MirrorConfig struct {
	SourceChatIDs  []int64 `mapstructure:"source_chat_ids"`
	TargetChatIDs  []int64 `mapstructure:"target_chat_ids"`
	AdminUserIDs   []int64 `mapstructure:"admin_user_ids"   validate:"min=1,dive,gt=0"`
	AllowedUserIDs []int64 `mapstructure:"allowed_user_ids" validate:"dive,gt=0"`

	RenderImages   bool `mapstructure:"render_images"`
	MaxImageWidth  int  `mapstructure:"max_image_width"  validate:"min=200,max=4096"`
	MaxImageHeight int  `mapstructure:"max_image_height" validate:"min=200,max=8192"`

	Workers       int           `mapstructure:"workers"         validate:"min=1,max=64"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst         int           `mapstructure:"burst"           validate:"min=1"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"    validate:"min=1s,max=10m"`
}

// RenderConfig defines how message cards are drawn.
type RenderConfig struct {
	FontFamily      string        `mapstructure:"font_family"`
	FontFile        string        `mapstructure:"font_file"        validate:"omitempty,file"`
	FontSize        float64       `mapstructure:"font_size"        validate:"min=6,max=72"`
	BackgroundColor string        `mapstructure:"background_color" validate:"hexcolor"`
	TextColor       string        `mapstructure:"text_color"       validate:"hexcolor"`
	AccentColor     string        `mapstructure:"accent_color"     validate:"hexcolor"`
	Padding         int           `mapstructure:"padding"          validate:"min=0,max=200"`
	BorderRadius    int           `mapstructure:"border_radius"    validate:"min=0,max=100"`
	OutputDir       string        `mapstructure:"output_dir"`
	Retention       time.Duration `mapstructure:"retention"        validate:"min=0"`
}

// DatabaseConfig selects the SQL backend by URL.
type DatabaseConfig struct {
	URL              string        `mapstructure:"url"               validate:"required"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"    validate:"min=1"`
	MappingRetention time.Duration `mapstructure:"mapping_retention" validate:"min=0"`
}

// LoggingConfig defines the slog output.
type LoggingConfig struct {
	Level       string `mapstructure:"level"         validate:"oneof=debug info warn warning error"`
	Format      string `mapstructure:"format"        validate:"oneof=text json"`
	FilePath    string `mapstructure:"file_path"`
	MaxFileSize int    `mapstructure:"max_file_size" validate:"min=1"` // megabytes
	BackupCount int    `mapstructure:"backup_count"  validate:"min=0"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// SchedulerConfig holds configuration for scheduled tasks.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig holds configuration for a single scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds the user-facing bot replies.
type MessagesConfig struct {
	Help              string `mapstructure:"help"                validate:"required"`
	Unauthorized      string `mapstructure:"unauthorized"        validate:"required"`
	GeneralError      string `mapstructure:"general_error"       validate:"required"`
	AddMirrorUsage    string `mapstructure:"add_mirror_usage"    validate:"required"`
	RemoveMirrorUsage string `mapstructure:"remove_mirror_usage" validate:"required"`
	ToggleMirrorUsage string `mapstructure:"toggle_mirror_usage" validate:"required"`
	CopyMessageUsage  string `mapstructure:"copy_message_usage"  validate:"required"`
	RenderUsage       string `mapstructure:"render_usage"        validate:"required"`
	SetUsage          string `mapstructure:"set_usage"           validate:"required"`
	NoMirrors         string `mapstructure:"no_mirrors"          validate:"required"`
	NoChats           string `mapstructure:"no_chats"            validate:"required"`
	MirrorNotFound    string `mapstructure:"mirror_not_found"    validate:"required"`
}

// IsAdmin reports whether the user may run admin commands.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.Mirror.AdminUserIDs, userID)
}

// IsAllowedUser reports whether messages from userID may be mirrored.
// An empty allow-list admits everyone.
func (c *Config) IsAllowedUser(userID int64) bool {
	if len(c.Mirror.AllowedUserIDs) == 0 {
		return true
	}
	return slices.Contains(c.Mirror.AllowedUserIDs, userID) || c.IsAdmin(userID)
}

// IsSourceChat reports whether chatID may act as a mirror source.
// An empty list admits every chat that has a mirror configured.
func (c *Config) IsSourceChat(chatID int64) bool {
	if len(c.Mirror.SourceChatIDs) == 0 {
		return true
	}
	return slices.Contains(c.Mirror.SourceChatIDs, chatID)
}

// ListsSourceChat reports whether chatID is explicitly configured as a source.
func (c *Config) ListsSourceChat(chatID int64) bool {
	return slices.Contains(c.Mirror.SourceChatIDs, chatID)
}

// IsTargetChat reports whether chatID may receive mirrored messages.
func (c *Config) IsTargetChat(chatID int64) bool {
	if len(c.Mirror.TargetChatIDs) == 0 {
		return true
	}
	return slices.Contains(c.Mirror.TargetChatIDs, chatID)
}
