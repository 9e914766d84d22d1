package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"instant-glicko2/server/glicko"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	NoColor     string `env:"NO_COLOR"`
	UseColor    string `env:"USE_COLOR"`

	StartRating          float64       `env:"GLICKO_START_RATING" envDefault:"1500"`
	StartDeviation       float64       `env:"GLICKO_START_DEVIATION" envDefault:"350"`
	StartVolatility      float64       `env:"GLICKO_START_VOLATILITY" envDefault:"0.06"`
	VolatilityChange     float64       `env:"GLICKO_VOLATILITY_CHANGE" envDefault:"0.5"`
	ConvergenceTolerance float64       `env:"GLICKO_CONVERGENCE_TOLERANCE" envDefault:"0.000001"`
	RatingPeriod         time.Duration `env:"GLICKO_RATING_PERIOD" envDefault:"24h"`

	// 0 means "same as the start deviation".
	MaxDeviation float64 `env:"GLICKO_MAX_DEVIATION" envDefault:"0"`
}

// Load reads .env (if present) and the environment.
func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Settings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Color reports whether terminal output may use ANSI colours.
func (c *Config) Color() bool {
	return c.NoColor == "" && strings.TrimSpace(c.UseColor) != "0"
}

// Settings builds validated engine settings from the GLICKO_* variables.
func (c *Config) Settings() (glicko.Settings, error) {
	start, err := glicko.NewPublicRating(c.StartRating, c.StartDeviation, c.StartVolatility)
	if err != nil {
		return glicko.Settings{}, fmt.Errorf("start rating: %w", err)
	}
	var opts []glicko.SettingsOption
	if c.MaxDeviation != 0 {
		opts = append(opts, glicko.WithMaxDeviation(c.MaxDeviation))
	}
	return glicko.NewSettings(start, c.VolatilityChange, c.ConvergenceTolerance, c.RatingPeriod, opts...)
}
