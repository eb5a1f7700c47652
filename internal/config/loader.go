package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Transport
	if cfg.Transport.Name != "" && !cfg.Transport.Name.IsValid() {
		errs = append(errs, fmt.Errorf("transport.name %q is invalid; valid values: gemini-live, mock", cfg.Transport.Name))
	}
	if cfg.Transport.Name == TransportGeminiLive && cfg.Transport.APIKey == "" {
		errs = append(errs, errors.New("transport.api_key is required when transport.name is gemini-live"))
	}
	if cfg.Transport.Name == TransportMock && cfg.Transport.APIKey != "" {
		slog.Warn("transport.api_key is set but the mock transport ignores it")
	}

	// Audio
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// Session
	if cfg.Session.FaultThreshold < 0 {
		errs = append(errs, fmt.Errorf("session.fault_threshold %d must be positive", cfg.Session.FaultThreshold))
	}
	if cfg.Session.FaultWindow < 0 {
		errs = append(errs, errors.New("session.fault_window must be positive"))
	}
	if cfg.Session.StopTimeout < 0 {
		errs = append(errs, errors.New("session.stop_timeout must be positive"))
	}
	if cfg.Session.DefaultLanguage == "" {
		slog.Warn("session.default_language is empty; start requests must specify a language")
	}

	return errors.Join(errs...)
}
