package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envPrefix = "OFFLINE_CACHE_"

// options are read from the config file, then the environment, then the command line.
// Later sources override earlier ones.
type options struct {
	Origin            string   `yaml:"origin" env:"ORIGIN"`
	Port              int      `yaml:"port" env:"PORT"`
	DB                string   `yaml:"db" env:"DB"`
	AppName           string   `yaml:"appName" env:"APP_NAME"`
	Version           string   `yaml:"version" env:"VERSION"`
	Precache          []string `yaml:"precache" env:"PRECACHE"`
	APIEndpoints      []string `yaml:"apiEndpoints" env:"API_ENDPOINTS"`
	NotificationTitle string   `yaml:"notificationTitle" env:"NOTIFICATION_TITLE"`
	LogFile           string   `yaml:"logFile" env:"LOG_FILE"`
}

func defaultOptions() options {
	return options{
		Port: 8080,
		DB:   "cache.db",
	}
}

func getConfig(filename string, opts *options) error {
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(configBytes, opts); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	return nil
}

// parseEnv overrides opts with the OFFLINE_CACHE_* variables of environ.
// Unset variables leave the options untouched.
func parseEnv(opts *options, environ map[string]string) error {
	if err := env.ParseWithOptions(opts, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// loadOptions reads the config file, if any, and the environment.
func loadOptions(configFilename string, environ map[string]string) (options, error) {
	opts := defaultOptions()
	if configFilename != "" {
		if err := getConfig(configFilename, &opts); err != nil {
			return opts, err
		}
	}
	if err := parseEnv(&opts, environ); err != nil {
		return opts, err
	}
	return opts, nil
}
