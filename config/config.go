// Package config loads the accountsd settings from defaults, optional .env
// files and the process environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MinSigningKeyLength is the shortest accepted HS256 key in bytes.
const MinSigningKeyLength = 32

// Config is read once at startup and passed to constructors.
type Config struct {
	HTTPAddr  string `json:"http_addr"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	StorageDriver string `json:"storage_driver"`
	DatabaseURL   string `json:"database_url"`

	JWTSigningKey string        `json:"jwt_signing_key"`
	JWTIssuer     string        `json:"jwt_issuer"`
	JWTTTL        time.Duration `json:"jwt_ttl"`

	ResetTokenTTL     time.Duration `json:"reset_token_ttl"`
	BcryptCost        int           `json:"bcrypt_cost"`
	RequireActivation bool          `json:"require_activation"`

	KafkaBrokers   []string      `json:"kafka_brokers"`
	KafkaTopic     string        `json:"kafka_topic"`
	PublishTimeout time.Duration `json:"publish_timeout"`

	LoginRatePerMinute int `json:"login_rate_per_minute"`
	LoginRateBurst     int `json:"login_rate_burst"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Default returns the settings used when nothing is configured. The signing
// key has no default.
func Default() Config {
	return Config{
		HTTPAddr:           ":8080",
		LogLevel:           "info",
		LogFormat:          "json",
		StorageDriver:      DriverSQLite,
		DatabaseURL:        "file:accounts.db?cache=shared",
		JWTIssuer:          "Blazemhan",
		JWTTTL:             10 * time.Minute,
		ResetTokenTTL:      15 * time.Minute,
		BcryptCost:         12,
		RequireActivation:  true,
		KafkaTopic:         "user-topics",
		PublishTimeout:     3 * time.Second,
		LoginRatePerMinute: 10,
		LoginRateBurst:     5,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load reads envFiles (missing files are skipped) and the environment, with
// real environment variables taking precedence.
func Load(envFiles ...string) (*Config, error) {
	fileEnv := map[string]string{}
	for _, name := range envFiles {
		values, err := godotenv.Read(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read env file "+name)
		}
		for k, v := range values {
			fileEnv[k] = v
		}
	}

	return LoadFrom(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
}

// LoadFrom builds a validated Config from lookup.
func LoadFrom(lookup func(key string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup, errs: map[string]string{}}

	p.str("HTTP_ADDR", &cfg.HTTPAddr)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("LOG_FORMAT", &cfg.LogFormat)
	p.str("STORAGE_DRIVER", &cfg.StorageDriver)
	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.str("JWT_SIGNING_KEY", &cfg.JWTSigningKey)
	p.str("JWT_ISSUER", &cfg.JWTIssuer)
	p.duration("JWT_TTL", &cfg.JWTTTL)
	p.duration("RESET_TOKEN_TTL", &cfg.ResetTokenTTL)
	p.integer("BCRYPT_COST", &cfg.BcryptCost)
	p.boolean("REQUIRE_ACTIVATION", &cfg.RequireActivation)
	p.list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	p.str("KAFKA_TOPIC", &cfg.KafkaTopic)
	p.duration("PUBLISH_TIMEOUT", &cfg.PublishTimeout)
	p.integer("LOGIN_RATE_PER_MINUTE", &cfg.LoginRatePerMinute)
	p.integer("LOGIN_RATE_BURST", &cfg.LoginRateBurst)
	p.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if len(p.errs) > 0 {
		return nil, goerrors.NewValidationFromMap("invalid configuration", p.errs).
			WithTextCode("INVALID_CONFIG")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate will run validation rules
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("json", "text")),
		validation.Field(&c.StorageDriver, validation.Required, validation.In(DriverMemory, DriverSQLite, DriverPostgres)),
		validation.Field(&c.DatabaseURL, validation.When(c.StorageDriver != DriverMemory, validation.Required)),
		validation.Field(&c.JWTSigningKey,
			validation.Required.Error("is required"),
			validation.Length(MinSigningKeyLength, 0).Error("must be at least 32 bytes"),
		),
		validation.Field(&c.JWTTTL, validation.Min(time.Second)),
		validation.Field(&c.ResetTokenTTL, validation.Min(time.Second)),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.KafkaTopic, validation.When(len(c.KafkaBrokers) > 0, validation.Required)),
		validation.Field(&c.PublishTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.LoginRatePerMinute, validation.Min(1)),
		validation.Field(&c.LoginRateBurst, validation.Min(1)),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Millisecond)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration").
			WithTextCode("INVALID_CONFIG")
	}
	return nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   map[string]string
}

func (p parser) value(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p parser) str(key string, dst *string) {
	if v, ok := p.value(key); ok {
		*dst = v
	}
}

func (p parser) integer(key string, dst *int) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs[key] = "must be an integer"
		return
	}
	*dst = n
}

func (p parser) boolean(key string, dst *bool) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs[key] = "must be a boolean"
		return
	}
	*dst = b
}

func (p parser) duration(key string, dst *time.Duration) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs[key] = "must be a duration such as 10m or 3s"
		return
	}
	*dst = d
}

func (p parser) list(key string, dst *[]string) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
