package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const Name = "tusker"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// RetryProfile bounds the delivery retries of one origin
type RetryProfile struct {
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

type AppConfig struct {
	Conf struct {
		Host              string
		HttpPort          int    `yaml:"httpPort"`
		SslDomain         string `yaml:"sslDomain"`
		Environment       string `yaml:"environment"`
		WithJournald      bool   `yaml:"withJournald"`
		WithPprof         bool   `yaml:"withPprof"`
		DatabasePath      string `yaml:"databasePath"`
		RedisAddr         string `yaml:"redisAddr"`
		MaxContentBytes   int    `yaml:"maxContentBytes"`
		MaxReplyDepth     int    `yaml:"maxReplyDepth"`
		PageSize          int    `yaml:"pageSize"`
		AutoAcceptFollows bool   `yaml:"autoAcceptFollows"`
		Delivery          struct {
			Inbound  RetryProfile
			Outbound RetryProfile
		}
		Workers struct {
			Inbound  int
			Delivery int
		}
	}
}

// IsProduction reports whether non-routable delivery targets should be treated as real failures
func (c *AppConfig) IsProduction() bool {
	return c.Conf.Environment == "" || c.Conf.Environment == "production"
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig
	}

	if err := ParseConf(buf, c); err != nil {
		return nil, err
	}

	applyEnvOverrides(c)
	return c, nil
}

// ParseConf decodes yaml on top of the embedded defaults, so a partial file keeps every other value
func ParseConf(buf []byte, c *AppConfig) error {
	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		return fmt.Errorf("in embedded config: %w", err)
	}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return fmt.Errorf("in config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("TUSKER_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("TUSKER_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Ignoring TUSKER_HTTPPORT: %v", err)
		} else {
			c.Conf.HttpPort = port
		}
	}

	if v := os.Getenv("TUSKER_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if v := os.Getenv("TUSKER_ENVIRONMENT"); v != "" {
		c.Conf.Environment = v
	}

	if v := os.Getenv("TUSKER_DATABASE"); v != "" {
		c.Conf.DatabasePath = v
	}

	if v := os.Getenv("TUSKER_REDIS_ADDR"); v != "" {
		c.Conf.RedisAddr = v
	}

	if os.Getenv("TUSKER_WITH_JOURNALD") == "true" {
		c.Conf.WithJournald = true
	}

	if os.Getenv("TUSKER_WITH_PPROF") == "true" {
		c.Conf.WithPprof = true
	}

	if os.Getenv("TUSKER_AUTO_ACCEPT_FOLLOWS") == "true" {
		c.Conf.AutoAcceptFollows = true
	}
}
