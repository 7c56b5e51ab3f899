package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	LogLevel      string `mapstructure:"log_level"`

	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`
	Storage struct {
		// Driver is "postgres" or "memory".
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	LLM struct {
		Provider string        `mapstructure:"provider"`
		APIKey   string        `mapstructure:"api_key"`
		Timeout  time.Duration `mapstructure:"timeout"`
		// Tiers maps a tier name (lite, flash, top) to a model id.
		Tiers map[string]string `mapstructure:"tiers"`
		// Fallbacks maps a model id to the model tried when it fails.
		Fallbacks map[string]string `mapstructure:"fallbacks"`
		// RPM caps requests per minute for a model id.
		RPM map[string]int `mapstructure:"rpm"`
	} `mapstructure:"llm"`
	Prompts struct {
		File string `mapstructure:"file"`
	} `mapstructure:"prompts"`
	Workflow struct {
		MandatoryStep string `mapstructure:"mandatory_step"`
		MaxParallel   int    `mapstructure:"max_parallel"`
	} `mapstructure:"workflow"`
	Cache struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"cache"`
	SMTP struct {
		Host          string `mapstructure:"host"`
		Port          int    `mapstructure:"port"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		From          string `mapstructure:"from"`
		Reviewer      string `mapstructure:"reviewer"`
		ReviewBaseURL string `mapstructure:"review_base_url"`
	} `mapstructure:"smtp"`
	Traces struct {
		Enabled   bool   `mapstructure:"enabled"`
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Bucket    string `mapstructure:"bucket"`
		UseSSL    bool   `mapstructure:"use_ssl"`
	} `mapstructure:"traces"`
	Telemetry struct {
		Exporter    string `mapstructure:"exporter"`
		Endpoint    string `mapstructure:"endpoint"`
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"telemetry"`
	Auth struct {
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`

		// SwaggerClientID is the public (PKCE) client used by the docs page.
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`

	// ConfigFile is the file the values were read from, empty when only
	// defaults and environment were used.
	ConfigFile string `mapstructure:"-"`
}

// LoadConfig loads the configuration from a file and the environment. When
// path is empty config.yaml is searched in the working directory and ./config;
// a missing file is not an error since every key has a default or an
// environment override (e.g. DB_HOST, LLM_API_KEY).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.ConfigFile = v.ConfigFileUsed()

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Storage.Driver = strings.ToLower(strings.TrimSpace(config.Storage.Driver))

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	// synthesis after approval runs inside the request
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.name", "theological_agent")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("llm.provider", "googleai")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.tiers", map[string]string{
		"lite":  "gemini-2.5-flash-lite",
		"flash": "gemini-2.5-flash",
		"top":   "gemini-3-flash-preview",
	})
	v.SetDefault("llm.fallbacks", map[string]string{
		"gemini-3-flash-preview": "gemini-2.5-flash",
		"gemini-2.5-flash":       "gemini-2.5-flash-lite",
		"gemini-2.5-flash-lite":  "gemini-2.0-flash-lite",
	})
	v.SetDefault("llm.rpm", map[string]int{
		"gemini-2.5-flash-lite":  10,
		"gemini-2.5-flash":       5,
		"gemini-3-flash-preview": 5,
	})

	v.SetDefault("workflow.mandatory_step", "intertextual")
	v.SetDefault("cache.enabled", true)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.review_base_url", "http://localhost:8080/hitl")

	v.SetDefault("traces.bucket", "traces")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.service_name", "theological-agent")

	v.SetDefault("tls.cert_file", "certs/server.crt")
	v.SetDefault("tls.key_file", "certs/server.key")
	v.SetDefault("tls.hostnames", []string{"localhost", "127.0.0.1"})
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.ToUpper(c.Environment) == "DEV"
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case "postgres":
		if c.DB.Host == "" || c.DB.Name == "" {
			problems = append(problems, "db.host and db.name are required for the postgres driver")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}
	for _, tier := range []string{"lite", "flash", "top"} {
		if c.LLM.Tiers[tier] == "" {
			problems = append(problems, fmt.Sprintf("llm.tiers.%s is required", tier))
		}
	}
	if c.Workflow.MandatoryStep == "" {
		problems = append(problems, "workflow.mandatory_step is required")
	}
	if c.Traces.Enabled && c.Traces.Endpoint == "" {
		problems = append(problems, "traces.endpoint is required when traces are enabled")
	}
	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		problems = append(problems, "tls.cert_file and tls.key_file are required when tls is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
