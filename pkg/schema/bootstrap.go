package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const bootstrapLogPrefix = "schema:bootstrap"

// BootstrapConfig is the root of a schema bootstrap file.
type BootstrapConfig struct {
	Name    string       `json:"name" yaml:"name"`
	Version string       `json:"version" yaml:"version"`
	Schemas []Definition `json:"schemas" yaml:"schemas"`
}

// LoadBootstrap reads the first readable bootstrap file among paths, then the defaults
// config/schemas.yaml and config/schemas.json. Files ending in .yaml or .yml are parsed as
// YAML, everything else as JSON. When no file loads, the built-in set is returned.
func LoadBootstrap(paths ...string) (*BootstrapConfig, error) {
	all := make([]string, 0, len(paths)+2)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	all = append(all, "config/schemas.yaml", "config/schemas.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		cfg, err := ParseBootstrap(data, filepath.Ext(p))
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse bootstrap file %s: %v", bootstrapLogPrefix, p, err))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded %d schemas from %s", bootstrapLogPrefix, len(cfg.Schemas), p))
		return cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default schema bootstrap", bootstrapLogPrefix))
	return DefaultBootstrap(), nil
}

// ParseBootstrap decodes a bootstrap document. ext selects the format (".yaml", ".yml" or JSON).
func ParseBootstrap(data []byte, ext string) (*BootstrapConfig, error) {
	var cfg BootstrapConfig
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s - invalid YAML: %w", bootstrapLogPrefix, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s - invalid JSON: %w", bootstrapLogPrefix, err)
		}
	}
	return &cfg, nil
}

// DefaultBootstrap returns the schemas every node understands.
func DefaultBootstrap() *BootstrapConfig {
	return &BootstrapConfig{
		Name:    "umicp-default",
		Version: "1.0.0",
		Schemas: []Definition{
			{
				ID:                 "umicp.envelope.v1",
				Name:               "umicp.envelope",
				Version:            "1.0.0",
				Type:               TypeJSON,
				Content:            `{"type":"object","required":["v","msg_id","ts","from","to","op"]}`,
				CompatibleVersions: []string{"^1.0"},
			},
			{
				ID:                 "umicp.kernel.request.v1",
				Name:               "umicp.kernel.request",
				Version:            "1.0.0",
				Type:               TypeJSON,
				Content:            `{"type":"object","required":["op"]}`,
				CompatibleVersions: []string{"^1.0"},
			},
		},
	}
}

// Seed registers every schema in cfg that is not already present and returns how many were
// added.
func Seed(ctx context.Context, reg *Registry, cfg *BootstrapConfig) (int, error) {
	added := 0
	for _, def := range cfg.Schemas {
		err := reg.Register(ctx, def)
		if err == nil {
			added++
			continue
		}
		var se *Error
		if errors.As(err, &se) && se.Code == CodeAlreadyExists {
			continue
		}
		return added, fmt.Errorf("%s - failed to seed schema %s: %w", bootstrapLogPrefix, def.ID, err)
	}
	slog.Info(fmt.Sprintf("%s - Seeded %d of %d schemas", bootstrapLogPrefix, added, len(cfg.Schemas)))
	return added, nil
}
