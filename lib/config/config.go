// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config loads and validates the server configuration. The file is
// YAML (JSON being valid YAML, either works); missing keys fall back to
// defaults suitable for a LAN host.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/birwin88/apollo/lib/netutil"
	"github.com/birwin88/apollo/lib/stream"
)

const (
	// DefaultBasePort is the well-known GameStream port. The HTTPS and
	// RTSP ports are derived from it by fixed offsets.
	DefaultBasePort = 47989

	DefaultChannels = 1
)

// ServerCommand is a named host command advertised to paired clients.
type ServerCommand struct {
	Name string `json:"name"`
	Cmd  string `json:"cmd"`
}

// Configuration is the root of the config file.
type Configuration struct {
	// Name is the hostname advertised to clients. Empty means the OS
	// hostname.
	Name string `json:"name,omitempty"`

	// Address is the listen host for both servers. Empty binds all
	// interfaces.
	Address string `json:"address,omitempty"`

	// Port is the base port; the HTTPS and RTSP ports are offsets from
	// it.
	Port int `json:"port,omitempty"`

	CertFile  string `json:"cert,omitempty"`
	KeyFile   string `json:"pkey,omitempty"`
	StateFile string `json:"state_file,omitempty"`

	// Channels caps the number of concurrent streaming sessions.
	Channels int `json:"channels,omitempty"`

	EnablePairing bool `json:"enable_pairing"`

	LANEncryption netutil.EncryptionMode `json:"lan_encryption_mode,omitempty"`
	WANEncryption netutil.EncryptionMode `json:"wan_encryption_mode,omitempty"`

	ServerCommands []ServerCommand `json:"server_cmd,omitempty"`

	Apps []stream.App `json:"apps,omitempty"`
}

// New returns a configuration with all defaults applied.
func New() Configuration {
	return Configuration{
		Port:          DefaultBasePort,
		Channels:      DefaultChannels,
		EnablePairing: true,
		LANEncryption: netutil.EncryptionOpportunistic,
		WANEncryption: netutil.EncryptionOpportunistic,
	}
}

// Load reads a config file on top of the defaults. A missing file is not
// an error; the defaults are returned as is.
func Load(path string) (Configuration, error) {
	cfg := New()

	bs, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.Debugln("no config at", path, "- using defaults")
		return cfg, nil
	} else if err != nil {
		return cfg, err
	}

	if err := yaml.UnmarshalStrict(bs, &cfg); err != nil {
		return cfg, fmt.Errorf("loading %s: %w", path, err)
	}

	return cfg.prepared()
}

func (cfg Configuration) prepared() (Configuration, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultBasePort
	}
	if cfg.Port < 1024 || cfg.Port > 65535-netutil.OffsetRTSP {
		return cfg, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.Channels < 1 {
		cfg.Channels = DefaultChannels
	}

	seen := make(map[int]string, len(cfg.Apps))
	for _, app := range cfg.Apps {
		if app.ID <= 0 {
			return cfg, fmt.Errorf("app %q needs a positive id", app.Name)
		}
		if other, ok := seen[app.ID]; ok {
			return cfg, fmt.Errorf("apps %q and %q share id %d", other, app.Name, app.ID)
		}
		seen[app.ID] = app.Name
	}

	return cfg, nil
}

// Hostname returns the advertised name, falling back to the OS hostname.
func (cfg Configuration) Hostname() string {
	if cfg.Name != "" {
		return cfg.Name
	}
	if hn, err := os.Hostname(); err == nil && hn != "" {
		return hn
	}
	return "apollo"
}

// HTTPPort is the plaintext control port.
func (cfg Configuration) HTTPPort() int {
	return netutil.MapPort(cfg.Port, netutil.OffsetHTTP)
}

// HTTPSPort is the mutually-authenticated control port.
func (cfg Configuration) HTTPSPort() int {
	return netutil.MapPort(cfg.Port, netutil.OffsetHTTPS)
}

// RTSPPort is the port handed to clients in session URLs.
func (cfg Configuration) RTSPPort() int {
	return netutil.MapPort(cfg.Port, netutil.OffsetRTSP)
}
