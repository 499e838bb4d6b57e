package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Transport names accepted in BRIDGE_TRANSPORT.
const (
	TransportGoChannel = "gochannel"
	TransportAMQP      = "amqp"
)

// Config holds all configuration for the bridge and its tools.
type Config struct {
	Transport        string        `env:"BRIDGE_TRANSPORT" envDefault:"gochannel" validate:"oneof=gochannel amqp"`
	DomainID         int           `env:"BRIDGE_DOMAIN_ID" envDefault:"0" validate:"gte=0,lte=232"`
	NetworkInterface string        `env:"BRIDGE_NETWORK_INTERFACE"`
	ConfigPath       string        `env:"BRIDGE_CONFIG_PATH"`
	AMQPURL          string        `env:"BRIDGE_AMQP_URL" validate:"omitempty,url"`
	Codec            string        `env:"BRIDGE_CODEC" envDefault:"json" validate:"oneof=json cbor"`
	DispatchTimeout  time.Duration `env:"BRIDGE_DISPATCH_TIMEOUT" envDefault:"2s" validate:"gt=0"`
	QueueCapacity    int           `env:"BRIDGE_QUEUE_CAPACITY" envDefault:"0" validate:"gte=0"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"debug" validate:"oneof=debug info warn error"`

	Tracing Tracing
}

// Tracing configures span export.
type Tracing struct {
	Enabled     bool   `env:"PUBSUB_TRACING_ENABLED" envDefault:"false"`
	ServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME" envDefault:"topicbridge"`
	ZipkinURL   string `env:"PUBSUB_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans" validate:"omitempty,url"`
}

var validate = validator.New()

// Load reads a .env file if present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return parse(env.Options{})
}

// FromMap builds a Config from environ instead of the process environment.
func FromMap(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.Codec = strings.ToLower(strings.TrimSpace(cfg.Codec))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Transport == TransportAMQP && c.AMQPURL == "" {
		return errors.New("invalid config: BRIDGE_AMQP_URL is required for the amqp transport")
	}
	return nil
}
