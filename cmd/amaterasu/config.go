package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	jsoniter "github.com/json-iterator/go"
	"github.com/radovskyb/watcher"
)

type config struct {
	Token      string `json:"token" env:"AMATERASU_TOKEN"`
	Intents    int64  `json:"intents" env:"AMATERASU_INTENTS"`
	GatewayURL string `json:"gatewayUrl" env:"AMATERASU_GATEWAY_URL"`
	Status     string `json:"status" env:"AMATERASU_STATUS"`
	Verbose    bool   `json:"verbose" env:"AMATERASU_VERBOSE"`
}

// loadConfig reads the JSON config file, then lets environment variables
// override individual fields.
func loadConfig(path string) (*config, error) {
	cfg := &config{Status: "online"}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("no token configured (config file or AMATERASU_TOKEN)")
	}
	return cfg, nil
}

// watchConfig fires onChange whenever the config file is rewritten.
func watchConfig(path string, onChange func()) (*watcher.Watcher, error) {
	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create)

	if err := w.Add(filepath.Dir(path)); err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case event := <-w.Event:
				if event.Path == path || filepath.Base(event.Path) == filepath.Base(path) {
					onChange()
				}
			case <-w.Error:
			case <-w.Closed:
				return
			}
		}
	}()

	go w.Start(500 * time.Millisecond)
	return w, nil
}
