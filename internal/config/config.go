// Package config reads the loaderchain YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"loaderchain.dev/internal/logging"
	"loaderchain.dev/internal/port"
)

type Config struct {
	// Loader specifiers in request order
	Loaders   []string          `yaml:"loaders"`
	Transport port.Transport    `yaml:"transport"`
	Log       Log               `yaml:"log"`
	Builtins  []string          `yaml:"builtins"`
	Packages  map[string]string `yaml:"packages"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Transport: port.TransportChan,
		Log:       Log{Level: "info"},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default. Unknown fields are errors.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case "", port.TransportChan, port.TransportRing:
	default:
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", port.TransportChan, port.TransportRing, c.Transport))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for i, l := range c.Loaders {
		if strings.TrimSpace(l) == "" {
			errs = append(errs, fmt.Errorf("loaders[%d] is empty", i))
		}
	}
	for i, b := range c.Builtins {
		if b == "" {
			errs = append(errs, fmt.Errorf("builtins[%d] is empty", i))
		}
	}
	for name, target := range c.Packages {
		if name == "" || target == "" {
			errs = append(errs, fmt.Errorf("packages: %q -> %q is incomplete", name, target))
		}
	}
	return errors.Join(errs...)
}
