package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	getter "github.com/hashicorp/go-getter"
	"gopkg.in/yaml.v3"

	"terrainstream/internal/config"
)

// writeConfigFromEnv materialises a configuration handed over through
// TERRAIN_CONFIG_JSON or TERRAIN_CONFIG_YAML_B64 at cfgPath.
func writeConfigFromEnv(cfgPath string) (bool, error) {
	jsonPayload := os.Getenv("TERRAIN_CONFIG_JSON")
	yamlPayload := os.Getenv("TERRAIN_CONFIG_YAML_B64")

	if jsonPayload == "" && yamlPayload == "" {
		return false, nil
	}
	if cfgPath == "" {
		return false, errors.New("environment provided configuration but no --config path supplied")
	}

	cfg := config.Default()
	if jsonPayload != "" {
		if err := json.Unmarshal([]byte(jsonPayload), cfg); err != nil {
			return false, fmt.Errorf("decode config json: %w", err)
		}
	} else {
		data, err := base64.StdEncoding.DecodeString(yamlPayload)
		if err != nil {
			return false, fmt.Errorf("decode config yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return false, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := writeValidated(cfg, cfgPath); err != nil {
		return false, err
	}
	return true, nil
}

// fetchConfig downloads a configuration file with go-getter, validates it and
// writes it to cfgPath.
func fetchConfig(src, cfgPath string) error {
	if cfgPath == "" {
		return errors.New("--config-url requires a --config path to write to")
	}
	tmp, err := os.MkdirTemp("", "terrain-config-")
	if err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	ext := sourceExt(src)
	dst := filepath.Join(tmp, "config"+ext)
	if err := getter.GetFile(dst, src); err != nil {
		return fmt.Errorf("download %s: %w", src, err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return fmt.Errorf("read downloaded config: %w", err)
	}

	cfg := config.Default()
	if err := config.Decode(data, ext, cfg); err != nil {
		return fmt.Errorf("parse downloaded config: %w", err)
	}
	return writeValidated(cfg, cfgPath)
}

func sourceExt(src string) string {
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		return path.Ext(u.Path)
	}
	return filepath.Ext(src)
}

func writeValidated(cfg *config.Config, cfgPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config json: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
