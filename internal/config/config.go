// Package config provides the configuration schema and loader for the
// voicecore service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the voicecore server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TransportName selects the backend adapter.
type TransportName string

const (
	// TransportGeminiLive streams over the Gemini Live WebSocket protocol.
	TransportGeminiLive TransportName = "gemini-live"

	// TransportMock is the in-memory transport used in tests and local
	// development without an API key.
	TransportMock TransportName = "mock"
)

// IsValid reports whether t is a recognised transport name.
func (t TransportName) IsValid() bool {
	return t == TransportGeminiLive || t == TransportMock
}

// Duration wraps time.Duration with YAML unmarshalling from strings like
// "10s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voicecore.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds network and logging settings for the voicecore server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// TransportConfig selects and configures the backend adapter.
type TransportConfig struct {
	// Name selects the adapter implementation.
	Name TransportName `yaml:"name"`

	// APIKey authenticates with the backend. Required for gemini-live.
	APIKey string `yaml:"api_key"`

	// Model overrides the adapter's default model identifier.
	Model string `yaml:"model"`

	// BaseURL overrides the adapter's default endpoint. Leave empty to use
	// the built-in default.
	BaseURL string `yaml:"base_url"`

	// Voice is the backend's prebuilt voice profile name (e.g., "Zephyr").
	Voice string `yaml:"voice"`
}

// AudioConfig holds the PCM formats of the two directions.
type AudioConfig struct {
	// CaptureRate is the microphone sample rate in Hz. Default 16000.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the synthesized-audio sample rate in Hz. Default 24000.
	PlaybackRate int `yaml:"playback_rate"`

	// FrameSize is the number of samples per outbound chunk. Default 4096.
	FrameSize int `yaml:"frame_size"`
}

// SessionConfig holds session behaviour defaults.
type SessionConfig struct {
	// DefaultLanguage is the response language used when a start request
	// does not specify one.
	DefaultLanguage string `yaml:"default_language"`

	// Instructions is the persona prompt. The session language is
	// substituted in by the transport at dial time.
	Instructions string `yaml:"instructions"`

	// FaultThreshold is the number of malformed inbound chunks within
	// FaultWindow that forces transport-error termination.
	FaultThreshold int `yaml:"fault_threshold"`

	// FaultWindow bounds the malformed-chunk counter (e.g., "10s").
	FaultWindow Duration `yaml:"fault_window"`

	// StopTimeout bounds teardown (e.g., "2s").
	StopTimeout Duration `yaml:"stop_timeout"`
}
