package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/edgard/tgmirror/internal/config"
	"github.com/edgard/tgmirror/internal/logger"
	"github.com/edgard/tgmirror/internal/render"
)

// setting is one value /set can change at runtime.
type setting struct {
	name    string
	example string
	current func(m *settingsManager) string
	// apply parses value into cfg and returns the env entries that persist it.
	apply func(cfg *config.Config, value string) (map[string]string, error)
	// rebuild marks settings that change how cards are drawn.
	rebuild bool
	// activate pushes the new value into the running components before the
	// config is committed.
	activate func(deps HandlerDeps, cfg *config.Config) error
}

var settings = []setting{
	{
		name:    "render_images",
		example: "on",
		current: func(m *settingsManager) string { return onOff(m.deps.Mirrors.RenderImages()) },
		apply: func(cfg *config.Config, value string) (map[string]string, error) {
			on, _, err := parseSwitch([]string{value})
			if err != nil {
				return nil, err
			}
			cfg.Mirror.RenderImages = on
			return map[string]string{renderEnvKey: strconv.FormatBool(on)}, nil
		},
		activate: func(deps HandlerDeps, cfg *config.Config) error {
			deps.Mirrors.SetRenderImages(cfg.Mirror.RenderImages)
			return nil
		},
	},
	{
		name:    "image_size",
		example: "800x1200",
		current: func(m *settingsManager) string {
			return fmt.Sprintf("%dx%d", m.deps.Config.Mirror.MaxImageWidth, m.deps.Config.Mirror.MaxImageHeight)
		},
		apply: func(cfg *config.Config, value string) (map[string]string, error) {
			w, h, ok := strings.Cut(strings.ToLower(value), "x")
			if !ok {
				return nil, fmt.Errorf("%w: size must look like 800x1200", errUsage)
			}
			width, err := parseInRange(w, "width", 200, 4096)
			if err != nil {
				return nil, err
			}
			height, err := parseInRange(h, "height", 200, 8192)
			if err != nil {
				return nil, err
			}
			cfg.Mirror.MaxImageWidth, cfg.Mirror.MaxImageHeight = width, height
			return map[string]string{
				"MIRROR__MAX_IMAGE_WIDTH":  strconv.Itoa(width),
				"MIRROR__MAX_IMAGE_HEIGHT": strconv.Itoa(height),
			}, nil
		},
		rebuild: true,
	},
	{
		name:    "font_family",
		example: "mono",
		current: func(m *settingsManager) string { return m.deps.Config.Render.FontFamily },
		apply: func(cfg *config.Config, value string) (map[string]string, error) {
			family := strings.ToLower(value)
			if family != "regular" && family != "mono" {
				return nil, fmt.Errorf("%w: font family must be regular or mono", errUsage)
			}
			cfg.Render.FontFamily = family
			return map[string]string{"RENDER__FONT_FAMILY": family}, nil
		},
		rebuild: true,
	},
	{
		name:    "font_size",
		example: "16",
		current: func(m *settingsManager) string {
			return strconv.FormatFloat(m.deps.Config.Render.FontSize, 'g', -1, 64)
		},
		apply: func(cfg *config.Config, value string) (map[string]string, error) {
			size, err := strconv.ParseFloat(value, 64)
			if err != nil || size < 6 || size > 72 {
				return nil, fmt.Errorf("%w: font size must be between 6 and 72", errUsage)
			}
			cfg.Render.FontSize = size
			return map[string]string{"RENDER__FONT_SIZE": strconv.FormatFloat(size, 'g', -1, 64)}, nil
		},
		rebuild: true,
	},
	{
		name:    "text_color",
		example: "#1A1A1A",
		current: func(m *settingsManager) string { return m.deps.Config.Render.TextColor },
		apply: func(cfg *config.Config, value string) (map[string]string, error) {
			cfg.Render.TextColor = strings.ToUpper(value)
			return map[string]string{"RENDER__TEXT_COLOR": cfg.Render.TextColor}, nil
		},
		rebuild: true,
	},
	{
		name:    "background_color",
		example: "#F5F5F5",
		current: func(m *settingsManager) string { return m.deps.Config.Render.BackgroundColor },
		apply: func(cfg *config.Config, value string) (map[string]string, error) {
			cfg.Render.BackgroundColor = strings.ToUpper(value)
			return map[string]string{"RENDER__BACKGROUND_COLOR": cfg.Render.BackgroundColor}, nil
		},
		rebuild: true,
	},
	{
		name:    "log_level",
		example: "debug",
		current: func(m *settingsManager) string {
			if m.deps.LogLevel != nil {
				return strings.ToLower(m.deps.LogLevel.Level().String())
			}
			return m.deps.Config.Logging.Level
		},
		apply: func(cfg *config.Config, value string) (map[string]string, error) {
			level, ok := logger.LookupLevel(value)
			if !ok {
				return nil, fmt.Errorf("%w: log level must be debug, info, warn or error", errUsage)
			}
			cfg.Logging.Level = strings.ToLower(level.String())
			return map[string]string{"LOGGING__LEVEL": cfg.Logging.Level}, nil
		},
		activate: func(deps HandlerDeps, cfg *config.Config) error {
			if deps.LogLevel == nil {
				return fmt.Errorf("log level is fixed for this process")
			}
			deps.LogLevel.Set(logger.ParseLevel(cfg.Logging.Level))
			return nil
		},
	},
}

func lookupSetting(name string) (setting, bool) {
	for _, s := range settings {
		if s.name == name {
			return s, true
		}
	}
	return setting{}, false
}

// settingExamples lists every setting with a sample value.
func settingExamples() string {
	lines := make([]string, len(settings))
	for i, s := range settings {
		lines[i] = s.name + " " + s.example
	}
	return strings.Join(lines, "\n")
}

func parseInRange(s, what string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be between %d and %d", errUsage, what, lo, hi)
	}
	return n, nil
}

// settingsManager applies runtime setting changes. It validates a change on a
// copy of the config, pushes it to the renderer, logger or mirror service,
// then commits it to the live config and the env file.
type settingsManager struct {
	mu   sync.Mutex // guards the config fields settings write
	deps HandlerDeps
	log  *slog.Logger
}

func newSettingsManager(deps HandlerDeps) *settingsManager {
	return &settingsManager{deps: deps, log: deps.Logger.With("component", "settings")}
}

// view lists every setting with its current value.
func (m *settingsManager) view() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("Settings:\n")
	for _, s := range settings {
		fmt.Fprintf(&sb, "%s: %s\n", s.name, s.current(m))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// set changes one setting and returns the reply for the admin.
func (m *settingsManager) set(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "", errUsage
	}
	s, ok := lookupSetting(strings.ToLower(args[0]))
	if !ok {
		return "", fmt.Errorf("%w: unknown setting %q", errUsage, args[0])
	}
	value := args[1]

	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.deps.Config
	env, err := s.apply(&next, value)
	if err != nil {
		return "", err
	}

	var renderer *render.Renderer
	if s.rebuild {
		renderer, err = render.NewFromConfig(&next, m.deps.Logger)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	if s.activate != nil {
		if err := s.activate(m.deps, &next); err != nil {
			return "", err
		}
	}
	if renderer != nil {
		m.deps.Mirrors.SetRenderer(renderer)
	}
	if _, err := s.apply(m.deps.Config, value); err != nil {
		return "", err
	}
	m.log.InfoContext(ctx, "Setting changed", "setting", s.name, "value", s.current(m))

	reply := fmt.Sprintf("%s is now %s.", s.name, s.current(m))
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := config.SetEnvValue(m.deps.Config.EnvFile, k, env[k]); err != nil {
			m.log.ErrorContext(ctx, "Failed to persist setting", "key", k, "env_file", m.deps.Config.EnvFile, "error", err)
			return reply + " The setting could not be saved and will reset on restart.", nil
		}
	}
	return reply, nil
}
