// Package config loads the chainlog configuration from CHAINLOG_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/gabapcia/chainlog/internal/pkg/types"
	"github.com/gabapcia/chainlog/internal/pkg/validator"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "chainlog"

// Source error policies.
const (
	SourceErrorContinue  = "continue"
	SourceErrorEndSource = "end-source"
	SourceErrorAbort     = "abort"
)

// ErrMissingSidecar is returned when a chain has no Sidecar URL.
var ErrMissingSidecar = errors.New("chain has no sidecar configured")

// Endpoints maps chain labels to URLs. It decodes "Name:url,Name:url",
// splitting each pair on the first colon only so URLs keep their scheme.
type Endpoints map[string]string

var _ envconfig.Decoder = (*Endpoints)(nil)

func (e *Endpoints) Decode(value string) error {
	endpoints := make(Endpoints)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, url, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("invalid endpoint %q: expected Name:url", pair)
		}

		name = strings.TrimSpace(name)
		if _, dup := endpoints[name]; dup {
			return fmt.Errorf("duplicate chain %q", name)
		}
		endpoints[name] = strings.TrimSpace(url)
	}

	*e = endpoints
	return nil
}

// Names returns the chain labels, sorted.
func (e Endpoints) Names() []string {
	return slices.Sorted(maps.Keys(e))
}

type Telemetry struct {
	Enabled     bool   `envconfig:"ENABLED" default:"false"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"chainlog" validate:"required"`
}

type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"." validate:"required"`

	Chains   Endpoints `envconfig:"CHAINS" validate:"dive,keys,chainid,endkeys,url"`
	Sidecars Endpoints `envconfig:"SIDECARS" validate:"dive,keys,chainid,endkeys,url"`

	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s" validate:"gt=0"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" default:"0" validate:"gte=0"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s" validate:"gt=0"`

	RetryAttempts uint          `envconfig:"RETRY_ATTEMPTS" default:"3" validate:"gte=1"`
	RetryDelay    time.Duration `envconfig:"RETRY_DELAY" default:"1s" validate:"gte=0"`

	SinkFailureThreshold int      `envconfig:"SINK_FAILURE_THRESHOLD" default:"5" validate:"gte=1"`
	MandatorySinks       []string `envconfig:"MANDATORY_SINKS" validate:"dive,oneof=blocks pallets events"`

	SourceErrorPolicy string `envconfig:"SOURCE_ERROR_POLICY" default:"end-source" validate:"oneof=continue end-source abort"`

	Telemetry Telemetry `envconfig:"TELEMETRY"`
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field constraints and that every chain has a Sidecar.
func (c Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return err
	}

	chains := types.NewSet(c.Chains.Names()...)
	sidecars := types.NewSet(c.Sidecars.Names()...)
	if missing := chains.Difference(sidecars); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSidecar, strings.Join(slices.Sorted(missing.ToIter()), ", "))
	}

	return nil
}
