package emitter

import (
	"strings"
	"time"

	"github.com/snowtrail/snowtrail/internal/errors"
)

// Method is the HTTP method used to deliver events.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Protocol is the collector URI scheme.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Mode selects between the background emission loop and inline draining
// on the caller's goroutine.
type Mode string

const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

// Collector path suffixes.
const (
	GetPathSuffix  = "/i"
	PostPathSuffix = "/com.snowplowanalytics.snowplow/tp2"
)

// Defaults.
const (
	DefaultSendLimitAsync = 500
	DefaultSendLimitSync  = 10
	DefaultByteLimit      = 52000
	DefaultRequestTimeout = 10 * time.Second
	DefaultFailInterval   = 10 * time.Second
)

// Config holds the emitter settings.
type Config struct {
	// Endpoint is the collector host, optionally with a port.
	Endpoint string
	Protocol Protocol
	Method   Method
	Mode     Mode

	// SendLimit is the maximum number of rows drained per cycle.
	SendLimit     int
	ByteLimitGet  int
	ByteLimitPost int

	RequestTimeout time.Duration
	// FailInterval is the pause after a cycle in which every request failed.
	FailInterval time.Duration

	// MaxConcurrentRequests bounds in-flight requests; 0 is unbounded.
	MaxConcurrentRequests int
	// RequestsPerSecond limits the request rate; 0 is unlimited.
	RequestsPerSecond float64
	RequestBurst      int
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = ProtocolHTTPS
	}
	if c.Method == "" {
		c.Method = MethodPost
	}
	if c.Mode == "" {
		c.Mode = ModeAsync
	}
	if c.SendLimit <= 0 {
		if c.Mode == ModeSync {
			c.SendLimit = DefaultSendLimitSync
		} else {
			c.SendLimit = DefaultSendLimitAsync
		}
	}
	if c.ByteLimitGet <= 0 {
		c.ByteLimitGet = DefaultByteLimit
	}
	if c.ByteLimitPost <= 0 {
		c.ByteLimitPost = DefaultByteLimit
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.FailInterval <= 0 {
		c.FailInterval = DefaultFailInterval
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = 1
	}
	return c
}

// validate rejects settings that can never work.
func (c Config) validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.NewConfigError(errors.CodeEmptyEndpoint, "endpoint cannot be null or empty")
	}
	switch c.Protocol {
	case ProtocolHTTP, ProtocolHTTPS:
	default:
		return errors.NewConfigError(errors.CodeInvalidConfig, "protocol must be http or https")
	}
	switch c.Method {
	case MethodGet, MethodPost:
	default:
		return errors.NewConfigError(errors.CodeInvalidConfig, "method must be GET or POST")
	}
	switch c.Mode {
	case ModeAsync, ModeSync:
	default:
		return errors.NewConfigError(errors.CodeInvalidConfig, "mode must be async or sync")
	}
	if c.MaxConcurrentRequests < 0 || c.RequestsPerSecond < 0 {
		return errors.NewConfigError(errors.CodeInvalidConfig, "request bounds must not be negative")
	}
	return nil
}

// CollectorURI returns <protocol>://<endpoint><suffix> for the method.
func (c Config) CollectorURI() string {
	suffix := PostPathSuffix
	if c.Method == MethodGet {
		suffix = GetPathSuffix
	}
	return string(c.Protocol) + "://" + strings.TrimSuffix(c.Endpoint, "/") + suffix
}
