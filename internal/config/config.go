package config

import (
	"time"

	"github.com/spf13/viper"
)

type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type ChannelConfig struct {
	URL               string `mapstructure:"url"`
	PublishRatePerSec int    `mapstructure:"publish_rate_per_sec"`
}

type TypingConfig struct {
	IdleSeconds      int `mapstructure:"idle_seconds"`
	RemoteTTLSeconds int `mapstructure:"remote_ttl_seconds"`
}

type Config struct {
	Env          string        `mapstructure:"env"`
	SessionToken string        `mapstructure:"session_token"`
	API          APIConfig     `mapstructure:"api"`
	Channel      ChannelConfig `mapstructure:"channel"`
	Typing       TypingConfig  `mapstructure:"typing"`
	PageLimit    int           `mapstructure:"page_limit"`

	// derived
	TypingIdle      time.Duration
	RemoteTypingTTL time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CHATSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if c.SessionToken == "" {
		c.SessionToken = v.GetString("session_token")
	}
	if c.Typing.IdleSeconds == 0 {
		c.Typing.IdleSeconds = 2
	}
	if c.Typing.RemoteTTLSeconds == 0 {
		c.Typing.RemoteTTLSeconds = 10
	}
	if c.PageLimit == 0 {
		c.PageLimit = 50
	}
	c.TypingIdle = time.Duration(c.Typing.IdleSeconds) * time.Second
	c.RemoteTypingTTL = time.Duration(c.Typing.RemoteTTLSeconds) * time.Second
	return &c, nil
}
