package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultEnvironment = "development"
	DefaultEnvFile     = ".env"

	DefaultSessionName = "telegram_mirror"
	DefaultSessionDir  = "./sessions"

	DefaultRenderImages   = true
	DefaultMaxImageWidth  = 800
	DefaultMaxImageHeight = 1200
	DefaultWorkers        = 4
	DefaultRatePerSecond  = 1.0
	DefaultBurst          = 3
	DefaultSendTimeout    = 30 * time.Second

	DefaultFontFamily      = "regular"
	DefaultFontSize        = 14.0
	DefaultBackgroundColor = "#FFFFFF"
	DefaultTextColor       = "#000000"
	DefaultAccentColor     = "#0088CC"
	DefaultPadding         = 20
	DefaultBorderRadius    = 10
	DefaultRenderRetention = 7 * 24 * time.Hour

	DefaultDatabaseURL      = "sqlite://./telegram_mirror.db"
	DefaultMaxOpenConns     = 10
	DefaultMappingRetention = 90 * 24 * time.Hour

	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultMaxFileSize = 10
	DefaultBackupCount = 5
)

// defaultTasks lists the scheduled tasks known to the bot with their default cron schedules.
var defaultTasks = map[string]TaskConfig{
	"sql_maintenance": {Enabled: true, Schedule: "0 0 4 * * 0"},
	"mapping_prune":   {Enabled: true, Schedule: "0 30 3 * * *"},
	"render_cleanup":  {Enabled: true, Schedule: "0 0 3 * * *"},
}

var defaultMessages = MessagesConfig{
	Help: "Telegram Mirror Bot\n\n" +
		"/status - bot status and statistics\n" +
		"/mirrors - list configured mirrors\n" +
		"/chats - list known chats\n" +
		"/add_mirror <source_id> <target_id> [topic_id] - create a mirror\n" +
		"/remove_mirror <mirror_id> - delete a mirror\n" +
		"/toggle_mirror <mirror_id> - enable or disable a mirror\n" +
		"/copy_message <source_id> <message_id...> <target_id> - copy messages once\n" +
		"/render [on|off] - show or change image rendering\n" +
		"/settings - show runtime settings\n" +
		"/set <setting> <value> - change a runtime setting\n" +
		"/users - list admins and allowed users\n" +
		"/help - this message",
	Unauthorized:      "You are not authorized to use this command.",
	GeneralError:      "An error occurred. Please try again later.",
	AddMirrorUsage:    "Usage: /add_mirror <source_id> <target_id> [topic_id]",
	RemoveMirrorUsage: "Usage: /remove_mirror <mirror_id>",
	ToggleMirrorUsage: "Usage: /toggle_mirror <mirror_id>",
	CopyMessageUsage:  "Usage: /copy_message <source_chat_id> <message_id> [message_id ...] <target_chat_id>",
	RenderUsage:       "Usage: /render [on|off]",
	SetUsage:          "Usage: /set <setting> <value>",
	NoMirrors:         "No mirrors configured.",
	NoChats:           "No chats known yet.",
	MirrorNotFound:    "Mirror not found.",
}

// setDefaults registers a default for every key so that AutomaticEnv can
// resolve each of them from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", DefaultEnvironment)
	v.SetDefault("debug", false)
	v.SetDefault("env_file", DefaultEnvFile)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.drop_pending_updates", false)
	v.SetDefault("telegram.api_id", 0)
	v.SetDefault("telegram.api_hash", "")
	v.SetDefault("telegram.phone_number", "")
	v.SetDefault("telegram.password", "")
	v.SetDefault("telegram.session_name", DefaultSessionName)
	v.SetDefault("telegram.session_dir", DefaultSessionDir)

	v.SetDefault("mirror.source_chat_ids", []int64{})
	v.SetDefault("mirror.target_chat_ids", []int64{})
	v.SetDefault("mirror.admin_user_ids", []int64{})
	v.SetDefault("mirror.allowed_user_ids", []int64{})
	v.SetDefault("mirror.render_images", DefaultRenderImages)
	v.SetDefault("mirror.max_image_width", DefaultMaxImageWidth)
	v.SetDefault("mirror.max_image_height", DefaultMaxImageHeight)
	v.SetDefault("mirror.workers", DefaultWorkers)
	v.SetDefault("mirror.rate_per_second", DefaultRatePerSecond)
	v.SetDefault("mirror.burst", DefaultBurst)
	v.SetDefault("mirror.send_timeout", DefaultSendTimeout)

	v.SetDefault("render.font_family", DefaultFontFamily)
	v.SetDefault("render.font_file", "")
	v.SetDefault("render.font_size", DefaultFontSize)
	v.SetDefault("render.background_color", DefaultBackgroundColor)
	v.SetDefault("render.text_color", DefaultTextColor)
	v.SetDefault("render.accent_color", DefaultAccentColor)
	v.SetDefault("render.padding", DefaultPadding)
	v.SetDefault("render.border_radius", DefaultBorderRadius)
	v.SetDefault("render.output_dir", "")
	v.SetDefault("render.retention", DefaultRenderRetention)

	v.SetDefault("database.url", DefaultDatabaseURL)
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.mapping_retention", DefaultMappingRetention)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_file_size", DefaultMaxFileSize)
	v.SetDefault("logging.backup_count", DefaultBackupCount)

	v.SetDefault("metrics.listen_addr", "")

	for name, task := range defaultTasks {
		v.SetDefault("scheduler.tasks."+name+".enabled", task.Enabled)
		v.SetDefault("scheduler.tasks."+name+".schedule", task.Schedule)
	}

	v.SetDefault("messages.help", defaultMessages.Help)
	v.SetDefault("messages.unauthorized", defaultMessages.Unauthorized)
	v.SetDefault("messages.general_error", defaultMessages.GeneralError)
	v.SetDefault("messages.add_mirror_usage", defaultMessages.AddMirrorUsage)
	v.SetDefault("messages.remove_mirror_usage", defaultMessages.RemoveMirrorUsage)
	v.SetDefault("messages.toggle_mirror_usage", defaultMessages.ToggleMirrorUsage)
	v.SetDefault("messages.copy_message_usage", defaultMessages.CopyMessageUsage)
	v.SetDefault("messages.render_usage", defaultMessages.RenderUsage)
	v.SetDefault("messages.set_usage", defaultMessages.SetUsage)
	v.SetDefault("messages.no_mirrors", defaultMessages.NoMirrors)
	v.SetDefault("messages.no_chats", defaultMessages.NoChats)
	v.SetDefault("messages.mirror_not_found", defaultMessages.MirrorNotFound)
}
