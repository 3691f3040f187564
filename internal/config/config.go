// Package config loads overseerd's startup configuration with the
// precedence code-defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds overseerd's process-wide settings.
type Config struct {
	Port             int           `env:"PORT" yaml:"port" default:"3001"`
	PortScanRange    int           `env:"PORT_SCAN_RANGE" yaml:"port_scan_range" default:"9"`
	Shell            string        `env:"SHELL" yaml:"shell" default:"/bin/bash"`
	GuardianInterval time.Duration `yaml:"guardian_interval" default:"5s"`
	StartupTimeout   time.Duration `yaml:"startup_timeout" default:"2s"`
	StopGraceWindow  time.Duration `yaml:"stop_grace_window" default:"5s"`
	BaseDir          string        `yaml:"-"` // resolved at runtime, not from config
}

// Load reads configPath (if non-empty and present), applying
// code-defaults first, then the YAML file, then environment variable
// overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if configPath != "" {
		if err := loadYAML(configPath, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	base, err := ResolveBaseDir()
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	cfg.BaseDir = base

	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func applyDefaults(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			applyDefaults(fv.Addr().Interface())
			continue
		}

		tag := field.Tag.Get("default")
		if tag == "" {
			continue
		}
		if fv.IsZero() {
			setFieldFromString(fv, field.Type, tag)
		}
	}
}

func applyEnv(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			applyEnv(fv.Addr().Interface())
			continue
		}

		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		envVal, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		setFieldFromString(fv, field.Type, envVal)
	}
}

func setFieldFromString(fv reflect.Value, ft reflect.Type, val string) {
	switch ft.Kind() {
	case reflect.String:
		fv.SetString(val)
	case reflect.Int:
		if n, err := strconv.Atoi(val); err == nil {
			fv.SetInt(int64(n))
		}
	case reflect.Bool:
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			fv.SetBool(true)
		case "false", "0", "no":
			fv.SetBool(false)
		}
	case reflect.Int64:
		if ft == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(val); err == nil {
				fv.SetInt(int64(d))
			}
		} else if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			fv.SetInt(n)
		}
	}
}
