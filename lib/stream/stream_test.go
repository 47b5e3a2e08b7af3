// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package stream

import (
	"encoding/binary"
	"net/url"
	"testing"
)

func launchQuery() url.Values {
	return url.Values{
		"rikey":   []string{"000102030405060708090a0b0c0d0e0f"},
		"rikeyid": []string{"305419896"},
	}
}

func TestNewLaunchSessionDefaults(t *testing.T) {
	s, err := NewLaunchSession(1, false, launchQuery(), "uuid-1")
	if err != nil {
		t.Fatal(err)
	}

	if s.DeviceName != "unknown" {
		t.Errorf("device name %q, expected unknown", s.DeviceName)
	}
	if s.UniqueID != "uuid-1" {
		t.Errorf("unique ID %q", s.UniqueID)
	}
	if s.Width != 0 || s.Height != 0 || s.FPS != 0 {
		t.Errorf("mode %dx%dx%d, expected zeros", s.Width, s.Height, s.FPS)
	}
	if s.SurroundInfo != 196610 {
		t.Errorf("surround info %d, expected 196610", s.SurroundInfo)
	}
	if s.ScaleFactor != 100 {
		t.Errorf("scale factor %d, expected 100", s.ScaleFactor)
	}
	if s.EnableSops || s.EnableHDR || s.VirtualDisplay || s.HostAudio {
		t.Error("boolean options should default to off")
	}
	if s.RTSPURLScheme != "rtsp://" {
		t.Errorf("scheme %q, expected rtsp:// without corever", s.RTSPURLScheme)
	}
	if s.RTSPCipher != nil {
		t.Error("no cipher expected without corever")
	}
	if len(s.AVPingPayload) != 16 {
		t.Errorf("AV ping payload %q, expected 16 hex chars", s.AVPingPayload)
	}
}

func TestNewLaunchSessionMode(t *testing.T) {
	q := launchQuery()
	q.Set("mode", "1920x1080x60")
	s, err := NewLaunchSession(1, false, q, "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Width != 1920 || s.Height != 1080 || s.FPS != 60 {
		t.Errorf("mode %dx%dx%d", s.Width, s.Height, s.FPS)
	}
}

func TestNewLaunchSessionGarbledMode(t *testing.T) {
	q := launchQuery()
	q.Set("mode", "1280xbogus")
	s, err := NewLaunchSession(1, false, q, "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Width != 1280 || s.Height != 0 || s.FPS != 0 {
		t.Errorf("mode %dx%dx%d, expected 1280x0x0", s.Width, s.Height, s.FPS)
	}
}

func TestNewLaunchSessionEncrypted(t *testing.T) {
	q := launchQuery()
	q.Set("corever", "1")
	s, err := NewLaunchSession(1, true, q, "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.RTSPCipher == nil {
		t.Fatal("expected an AEAD cipher with corever 1")
	}
	if s.RTSPURLScheme != "rtspenc://" {
		t.Errorf("scheme %q, expected rtspenc://", s.RTSPURLScheme)
	}
	if !s.HostAudio {
		t.Error("host audio flag should carry through")
	}
}

func TestNewLaunchSessionIV(t *testing.T) {
	s, err := NewLaunchSession(1, false, launchQuery(), "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.IV) != 16 {
		t.Fatalf("IV length %d, expected 16", len(s.IV))
	}
	if got := binary.BigEndian.Uint32(s.IV); got != 305419896 {
		t.Errorf("IV prefix %d, expected 305419896", got)
	}
	for _, b := range s.IV[4:] {
		if b != 0 {
			t.Fatal("IV tail should be zero")
		}
	}
}

func TestNewLaunchSessionBadKey(t *testing.T) {
	q := launchQuery()
	q.Set("rikey", "not hex")
	if _, err := NewLaunchSession(1, false, q, "uuid-1"); err == nil {
		t.Error("expected an error for an unparseable rikey")
	}
}

func TestBroker(t *testing.T) {
	b := NewBroker()
	if b.SessionCount() != 0 {
		t.Fatal("fresh broker should be empty")
	}
	if b.ClaimSession() != nil {
		t.Fatal("nothing to claim yet")
	}

	first := &LaunchSession{ID: 1}
	second := &LaunchSession{ID: 2}
	b.RaiseSession(first)
	b.RaiseSession(second)

	if b.SessionCount() != 0 {
		t.Error("pending sessions should not count as active")
	}
	if got := b.ClaimSession(); got != first {
		t.Errorf("claimed session %v, expected the oldest", got)
	}
	if b.SessionCount() != 1 {
		t.Errorf("session count %d after claim", b.SessionCount())
	}
	if got := b.ClaimSession(); got != second {
		t.Errorf("claimed session %v", got)
	}
	if b.SessionCount() != 2 {
		t.Errorf("session count %d", b.SessionCount())
	}

	b.ReleaseSession()
	b.ReleaseSession()
	if b.SessionCount() != 0 {
		t.Errorf("session count %d after releases", b.SessionCount())
	}
	b.ReleaseSession()
	if b.SessionCount() != 0 {
		t.Error("release must not go negative")
	}
}

func TestMemCatalog(t *testing.T) {
	apps := []App{
		{ID: 1, Name: "Desktop", ImagePath: "/tmp/desktop.png"},
		{ID: 2, Name: "Steam", Cmd: `steam -bigpicture`},
	}
	c := NewMemCatalog(apps)

	if got := c.Apps(); len(got) != 2 {
		t.Fatalf("got %d apps", len(got))
	}
	if c.Running() != 0 {
		t.Fatal("nothing should be running")
	}

	s := &LaunchSession{ID: 1}
	if code := c.Execute(2, apps[1], s); code != 0 {
		t.Fatalf("execute failed with %d", code)
	}
	if c.Running() != 2 {
		t.Errorf("running %d, expected 2", c.Running())
	}

	c.Terminate()
	if c.Running() != 0 {
		t.Error("terminate should clear the running app")
	}

	if got := c.ImagePath(1); got != "/tmp/desktop.png" {
		t.Errorf("image path %q", got)
	}
	if got := c.ImagePath(99); got != "" {
		t.Errorf("image path for unknown app %q", got)
	}
}

func TestMemCatalogBadCommand(t *testing.T) {
	app := App{ID: 3, Name: "Broken", Cmd: `program "unterminated`}
	c := NewMemCatalog([]App{app})
	if code := c.Execute(3, app, &LaunchSession{ID: 1}); code != 503 {
		t.Errorf("execute returned %d, expected 503", code)
	}
	if c.Running() != 0 {
		t.Error("a failed execute must not mark the app running")
	}
}
