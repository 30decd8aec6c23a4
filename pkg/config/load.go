// pkg/config/load.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// PathEnv names the variable holding the config file path.
const PathEnv = "COMPOSR_CONFIG"

// DefaultPath is read when PathEnv is unset.
const DefaultPath = "composr.toml"

// Load reads the TOML file at path (a missing file is not an error), applies
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = envOr(PathEnv, DefaultPath)
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML bytes over the defaults without touching the environment.
func Parse(b []byte) (Config, error) {
	cfg := Defaults()
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Server.Listen = envOr("SERVER_LISTEN_ADDRESS", c.Server.Listen)
	c.Server.TLSCert = envOr("SSL_SERVER_CERTIFICATE", c.Server.TLSCert)
	c.Server.TLSKey = envOr("SSL_SERVER_KEY", c.Server.TLSKey)

	c.Execution.TimeoutMS = envInt("COMPOSR_TIMEOUT_MS", c.Execution.TimeoutMS)

	c.Bus.Driver = envOr("BUS_DRIVER", c.Bus.Driver)
	c.Bus.ReconnectMS = envInt("BUS_RECONNECT_MS", c.Bus.ReconnectMS)
	c.Bus.AMQP.URL = envOr("AMQP_URL", c.Bus.AMQP.URL)
	c.Bus.AMQP.Exchange = envOr("AMQP_EXCHANGE", c.Bus.AMQP.Exchange)
	c.Bus.AMQP.Event = envOr("AMQP_EVENT", c.Bus.AMQP.Event)
	if v := splitCSV(os.Getenv("KAFKA_BROKERS")); len(v) > 0 {
		c.Bus.Kafka.Brokers = v
	}
	c.Bus.Kafka.Topic = envOr("KAFKA_TOPIC", c.Bus.Kafka.Topic)

	c.Origin.BaseURL = envOr("ORIGIN_BASE_URL", c.Origin.BaseURL)
	c.Origin.TokenURL = envOr("OAUTH_TOKEN_URL", c.Origin.TokenURL)
	c.Origin.ClientID = envOr("OAUTH_CLIENT_ID", c.Origin.ClientID)
	c.Origin.ClientSecret = envOr("OAUTH_CLIENT_SECRET", c.Origin.ClientSecret)
	if v := splitCSV(os.Getenv("OAUTH_SCOPES")); len(v) > 0 {
		c.Origin.Scopes = v
	}

	if v := strings.TrimSpace(os.Getenv("BOOTSTRAP_ENABLED")); v != "" {
		c.Bootstrap.Enabled = strings.EqualFold(v, "true")
	}
	c.Bootstrap.RetryMS = envInt("BOOTSTRAP_RETRY_MS", c.Bootstrap.RetryMS)

	c.Log.Dir = envOr("LOG_DIR", c.Log.Dir)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)

	c.Auth.KeyURL = envOr("ASSERTION_KEY_URL", c.Auth.KeyURL)
	c.Auth.Issuer = envOr("ASSERTION_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = envOr("ASSERTION_AUDIENCE", c.Auth.Audience)
	c.Auth.KeyKID = envOr("ASSERTION_KEY_KID", c.Auth.KeyKID)
	c.Auth.LeewaySec = envInt("ASSERTION_LEEWAY_SECONDS", c.Auth.LeewaySec)
	if os.Getenv("AUTH_DEV_BYPASS") == "true" {
		c.Auth.DevBypass = true
	}
}

// ---------- tiny helpers ----------

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
