package config

import (
	"strconv"
	"strings"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTCOORD_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from AGENTCOORD_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	o := overrider{lookup: lookup}

	o.intVar("MAX_WORKERS", &c.MaxWorkers)
	o.intVar("MAX_RETRIES", &c.MaxRetries)
	o.strVar("ASSIGNMENT_STRATEGY", &c.AssignmentStrategy)
	o.durVar("ADMISSION_TIMEOUT", &c.AdmissionTimeout)
	o.durVar("TASK_TIMEOUT", &c.TaskTimeout)
	o.durVar("ORCHESTRATOR_DEADLINE", &c.OrchestratorDeadline)
	o.durVar("RETRY_BACKOFF", &c.RetryBackoff)
	o.durVar("RETRY_BACKOFF_MAX", &c.RetryBackoffMax)
	o.durVar("TASK_RETENTION", &c.TaskRetention)
	o.strVar("LOG_LEVEL", &c.LogLevel)

	o.durVar("HEARTBEAT_INTERVAL", &c.Heartbeat.Interval)
	o.intVar("HEARTBEAT_OFFLINE_AFTER_MISSES", &c.Heartbeat.OfflineAfterMisses)
	o.intVar("HEARTBEAT_REMOVE_AFTER_MISSES", &c.Heartbeat.RemoveAfterMisses)

	o.strVar("NATS_URL", &c.NATS.URL)
	o.strVar("NATS_NAME", &c.NATS.Name)
	o.strVar("NATS_TOKEN", &c.NATS.Token)
	o.strVar("NATS_USER", &c.NATS.User)
	o.strVar("NATS_PASSWORD", &c.NATS.Password)

	o.strVar("TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	o.strVar("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	o.strVar("TELEMETRY_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	o.floatVar("TELEMETRY_SAMPLE_RATIO", &c.Telemetry.SampleRatio)

	return o.err
}

// overrider keeps the first parse error so ApplyEnv reads linearly.
type overrider struct {
	lookup LookupFunc
	err    error
}

func (o *overrider) get(key string) (string, bool) {
	if o.err != nil {
		return "", false
	}
	v, ok := o.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (o *overrider) strVar(key string, dst *string) {
	if v, ok := o.get(key); ok {
		*dst = v
	}
}

func (o *overrider) intVar(key string, dst *int) {
	v, ok := o.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		o.err = cerrors.InvalidInput(EnvPrefix+key+" must be an integer", cerrors.WithCause(err))
		return
	}
	*dst = n
}

func (o *overrider) floatVar(key string, dst *float64) {
	v, ok := o.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		o.err = cerrors.InvalidInput(EnvPrefix+key+" must be a number", cerrors.WithCause(err))
		return
	}
	*dst = f
}

func (o *overrider) durVar(key string, dst *Duration) {
	v, ok := o.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		o.err = cerrors.InvalidInput(EnvPrefix+key+" must be a duration", cerrors.WithCause(err))
		return
	}
	dst.Duration = d
}
