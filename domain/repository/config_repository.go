package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

func NewConfigRepository(path string) (*Config, error) {
	viper.SetConfigFile(path)

	viper.AutomaticEnv()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("listen", ":8080")
	viper.SetDefault("poll_interval", time.Minute)
	viper.SetDefault("filter_pattern", "?ERROR ?Error ?error")
	viper.SetDefault("forecast_lookback_days", 30)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var c Config
	err = viper.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	valid := validator.New()
	if err = valid.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &c, nil
}

type Config struct {
	Listen               string           `mapstructure:"listen"`
	NotifyChannel        string           `mapstructure:"notify_channel" validate:"required"`
	LogGroups            []string         `mapstructure:"log_groups" validate:"required"`
	PollInterval         time.Duration    `mapstructure:"poll_interval"`
	FilterPattern        string           `mapstructure:"filter_pattern"`
	ForecastLookbackDays int              `mapstructure:"forecast_lookback_days" validate:"gte=1"`
	Confluence           ConfluenceConfig `mapstructure:"confluence"`
}

type ConfluenceConfig struct {
	AncestorID string `mapstructure:"ancestor_id"`
	Space      string `mapstructure:"space"`
	Domain     string `mapstructure:"domain"`
}
