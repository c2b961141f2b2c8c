package config

import (
	"time"

	"github.com/spf13/pflag"

	pkgconfig "github.com/sangam-gaddi/becbilldeskbeta/pkg/config"
)

// CLI is the chat-cli configuration. Flags win over cli.yaml and CHAT_*
// environment variables.
type CLI struct {
	GatewayURL  string        `mapstructure:"url"`
	APIURL      string        `mapstructure:"api"`
	USN         string        `mapstructure:"usn"`
	Password    string        `mapstructure:"password"`
	Name        string        `mapstructure:"name"`
	Token       string        `mapstructure:"token"`
	TypingTTL   time.Duration `mapstructure:"typing_ttl"`
	HistoryCap  int           `mapstructure:"history_cap"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	Log         LogConfig     `mapstructure:"log"`
}

// CLIFlags declares the chat-cli flags on fs.
func CLIFlags(fs *pflag.FlagSet) {
	fs.String("url", "ws://localhost:8090/chat/ws", "chat gateway WebSocket URL")
	fs.String("api", "http://localhost:8091", "chat-api base URL (login and history)")
	fs.String("usn", "", "student USN")
	fs.String("password", "", "password; logs in through chat-api when set")
	fs.String("name", "", "display name (defaults to the account name after login)")
	fs.String("token", "", "existing session token")
	fs.Duration("typing-ttl", 3*time.Second, "how long a typing indicator stays visible")
	fs.Int("history-cap", 500, "messages kept per conversation")
	fs.String("log-level", "warn", "log level")
}

// LoadCLI merges parsed flags, cli.yaml and the environment.
func LoadCLI(fs *pflag.FlagSet) (*CLI, error) {
	v, err := pkgconfig.Load(configPath(), "cli")
	if err != nil {
		return nil, err
	}
	v.SetEnvPrefix("CHAT")

	bindings := map[string]string{
		"url":         "url",
		"api":         "api",
		"usn":         "usn",
		"password":    "password",
		"name":        "name",
		"token":       "token",
		"typing_ttl":  "typing-ttl",
		"history_cap": "history-cap",
		"log.level":   "log-level",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, err
		}
	}
	v.SetDefault("http_timeout", "10s")

	var cfg CLI
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.TypingTTL = pkgconfig.Duration(v, "typing_ttl", 3*time.Second)
	cfg.HTTPTimeout = pkgconfig.Duration(v, "http_timeout", 10*time.Second)
	return &cfg, nil
}
