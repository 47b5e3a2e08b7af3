// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/d4l3k/messagediff"

	"github.com/birwin88/apollo/lib/netutil"
	"github.com/birwin88/apollo/lib/stream"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != DefaultBasePort {
		t.Errorf("port %d, expected %d", cfg.Port, DefaultBasePort)
	}
	if cfg.Channels != DefaultChannels {
		t.Errorf("channels %d, expected %d", cfg.Channels, DefaultChannels)
	}
	if !cfg.EnablePairing {
		t.Error("pairing should default to enabled")
	}
	if cfg.LANEncryption != netutil.EncryptionOpportunistic {
		t.Errorf("LAN encryption %v", cfg.LANEncryption)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apollo.yaml")
	data := `
name: gamehost
port: 48989
channels: 2
enable_pairing: true
wan_encryption_mode: mandatory
apps:
  - id: 1
    name: Desktop
  - id: 2
    name: Steam
    cmd: steam -bigpicture
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	expected := New()
	expected.Name = "gamehost"
	expected.Port = 48989
	expected.Channels = 2
	expected.WANEncryption = netutil.EncryptionMandatory
	expected.Apps = []stream.App{
		{ID: 1, Name: "Desktop"},
		{ID: 2, Name: "Steam", Cmd: "steam -bigpicture"},
	}
	if diff, equal := messagediff.PrettyDiff(expected, cfg); !equal {
		t.Errorf("loaded config differs. Diff:\n%s", diff)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apollo.yaml")
	if err := os.WriteFile(path, []byte("prot: 48989\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a misspelled key")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apollo.yaml")
	if err := os.WriteFile(path, []byte("port: 80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a privileged port")
	}
}

func TestLoadRejectsDuplicateAppIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apollo.yaml")
	data := `
apps:
  - id: 1
    name: One
  - id: 1
    name: Other
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for duplicate app ids")
	}
}

func TestDerivedPorts(t *testing.T) {
	cfg := New()
	if got := cfg.HTTPSPort(); got != 47984 {
		t.Errorf("HTTPS port %d", got)
	}
	if got := cfg.HTTPPort(); got != 47989 {
		t.Errorf("HTTP port %d", got)
	}
	if got := cfg.RTSPPort(); got != 48010 {
		t.Errorf("RTSP port %d", got)
	}
}

func TestHostnameFallback(t *testing.T) {
	cfg := New()
	cfg.Name = "custom"
	if cfg.Hostname() != "custom" {
		t.Error("configured name should win")
	}
	cfg.Name = ""
	if cfg.Hostname() == "" {
		t.Error("hostname must never be empty")
	}
}
