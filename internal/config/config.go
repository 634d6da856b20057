// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config is the root configuration.
type Config struct {
	GRPCPort string       `yaml:"grpc_port"`
	HTTPPort string       `yaml:"http_port"`
	Store    StoreConfig  `yaml:"store"`
	JWT      JWTConfig    `yaml:"jwt"`
	TLS      TLSConfig    `yaml:"tls"`
	Chat     ChatConfig   `yaml:"chat"`
	Fanout   FanoutConfig `yaml:"fanout"`
	Log      LogConfig    `yaml:"log"`

	// RateLimitRPM bounds Register/Login attempts per key and minute.
	RateLimitRPM int `yaml:"rate_limit_rpm"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	MongoURI string `yaml:"mongo_uri"`
	Database string `yaml:"database"`
}

type JWTConfig struct {
	Secret    string            `yaml:"secret"`
	Keys      map[string]string `yaml:"keys"` // kid -> secret
	ActiveKid string            `yaml:"active_kid"`
	TTL       time.Duration     `yaml:"ttl"`
}

type TLSConfig struct {
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
	Require bool   `yaml:"require"`
}

type ChatConfig struct {
	MaxBodyLength int `yaml:"max_body_length"`
}

type FanoutConfig struct {
	Shards     int           `yaml:"shards"`
	QueueSize  int           `yaml:"queue_size"`
	GapTimeout time.Duration `yaml:"gap_timeout"`
	ConnBuffer int           `yaml:"conn_buffer"`
	RedisURL   string        `yaml:"redis_url"`
	RedisTopic string        `yaml:"redis_topic"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Defaults returns a configuration usable for local development once a JWT
// secret is provided.
func Defaults() Config {
	return Config{
		GRPCPort: "50051",
		HTTPPort: "8080",
		Store: StoreConfig{
			Driver:   DriverMongo,
			Database: "chat_db",
		},
		JWT:  JWTConfig{TTL: 24 * time.Hour},
		Chat: ChatConfig{MaxBodyLength: 5000},
		Fanout: FanoutConfig{
			Shards:     8,
			QueueSize:  1024,
			GapTimeout: 2 * time.Second,
			ConnBuffer: 128,
			RedisTopic: "realtime-dm:events",
		},
		Log:          LogConfig{Level: "info"},
		RateLimitRPM: 10,
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.GRPCPort, "PORT")
	setString(&c.HTTPPort, "HTTP_PORT")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.MongoURI, "MONGODB_URI")
	setString(&c.Store.Database, "MONGODB_DATABASE")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.JWT.ActiveKid, "JWT_ACTIVE_KID")
	setString(&c.TLS.Cert, "TLS_CERT")
	setString(&c.TLS.Key, "TLS_KEY")
	setString(&c.Fanout.RedisURL, "REDIS_URL")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("REQUIRE_TLS"); v != "" {
		c.TLS.Require = v == "true"
	}

	if v := os.Getenv("JWT_KEYS"); v != "" {
		keys, err := ParseKeys(v)
		if err != nil {
			return err
		}
		c.JWT.Keys = keys
	}

	for _, e := range []struct {
		name string
		dst  *int
	}{
		{"RATE_LIMIT_RPM", &c.RateLimitRPM},
		{"MAX_BODY_LENGTH", &c.Chat.MaxBodyLength},
	} {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.name, v, err)
		}
		*e.dst = n
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// ParseKeys parses the JWT_KEYS format "kid:secret,kid2:secret2".
func ParseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("MONGODB_URI must be set for the mongo store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.JWT.Secret == "" && len(c.JWT.Keys) == 0 {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("jwt ttl must be positive")
	}
	if c.TLS.Require && (c.TLS.Cert == "" || c.TLS.Key == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.Chat.MaxBodyLength <= 0 {
		return errors.New("max body length must be positive")
	}
	if c.RateLimitRPM <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Fanout.Shards <= 0 || c.Fanout.QueueSize <= 0 || c.Fanout.ConnBuffer <= 0 {
		return errors.New("fanout shards, queue size and connection buffer must be positive")
	}
	if c.Fanout.GapTimeout <= 0 {
		return errors.New("fanout gap timeout must be positive")
	}
	return nil
}
