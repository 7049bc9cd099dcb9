package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every failure returned by LoadConfig.
var ErrConfiguration = errors.New("configuration error")

// LoadConfig builds the configuration from, in increasing priority: defaults,
// the YAML file at configPath (optional), the .env file at envFile (optional)
// and the process environment.
func LoadConfig(configPath, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load env file %s: %v", ErrConfiguration, envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %v", ErrConfiguration, configPath, err)
			}
			slog.Debug("Configuration file not found, using defaults and environment", "path", configPath)
		}
	}

	cfg := &Config{}
	hook := mapstructure.ComposeDecodeHookFunc(
		idListHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}
	if cfg.EnvFile == DefaultEnvFile {
		cfg.EnvFile = envFile
	}

	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	for _, id := range cfg.Mirror.SourceChatIDs {
		if id == 0 {
			return errors.New("mirror.source_chat_ids must not contain 0")
		}
	}
	for _, id := range cfg.Mirror.TargetChatIDs {
		if id == 0 {
			return errors.New("mirror.target_chat_ids must not contain 0")
		}
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
}

var int64SliceType = reflect.TypeOf([]int64{})

// idListHook decodes "1,2,3", "[1, 2, 3]" or a single number into []int64.
func idListHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != int64SliceType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return ParseIDList(data.(string))
	case reflect.Int, reflect.Int64:
		return []int64{reflect.ValueOf(data).Int()}, nil
	default:
		return data, nil
	}
}

// ParseIDList parses a comma separated list of chat or user ids,
// optionally wrapped in brackets.
func ParseIDList(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	ids := []int64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SetEnvValue writes key=value into the .env file at path, keeping other
// entries, and applies it to the current process environment.
func SetEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		values = map[string]string{}
	}
	values[key] = value
	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("failed to write env file %s: %w", path, err)
	}
	return os.Setenv(key, value)
}
