package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the galactic binaries read from the environment.
type Config struct {
	DatabaseURL     string
	DiscordToken    string
	GuildID         string
	SystemChannelID string
	TickEvery       time.Duration
	StartingCash    float64
	NamesFile       string
	SymbolMaxLen    int
	APIAddr         string
	RedisAddr       string
	PollEvery       time.Duration
}

// LoadFromEnv reads the shared configuration. Only DATABASE_URL is required
// here; each binary validates the extras it actually needs (the API server
// never needs a Discord token, the bot never needs a listen address).
func LoadFromEnv() (Config, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("GALACTIC_API_ADDR", ":8080")
	}

	cfg := Config{
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DiscordToken:    strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		GuildID:         strings.TrimSpace(os.Getenv("GALACTIC_GUILD_ID")),
		SystemChannelID: strings.TrimSpace(os.Getenv("GALACTIC_SYSTEM_CHANNEL_ID")),
		TickEvery:       envDurationDefault("GALACTIC_TICK_EVERY", 30*time.Second),
		StartingCash:    envFloatDefault("GALACTIC_STARTING_CASH", 100000.0),
		NamesFile:       envDefault("GALACTIC_NAMES_FILE", "database/stocks.txt"),
		SymbolMaxLen:    envIntDefault("GALACTIC_SYMBOL_MAX_LEN", 5),
		APIAddr:         addr,
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		PollEvery:       envDurationDefault("GALACTIC_API_POLL_EVERY", 10*time.Second),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// RequireDiscord validates the fields only the bot process needs.
func (c Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.GuildID == "" {
		return fmt.Errorf("GALACTIC_GUILD_ID is required")
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
