// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package stream

import (
	"github.com/kballard/go-shellquote"

	"github.com/birwin88/apollo/lib/sync"
)

// An App is one configured, launchable application.
type App struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Cmd       string `json:"cmd,omitempty"`
	ImagePath string `json:"image-path,omitempty"`
}

// A Catalog enumerates configured apps and tracks which one is running.
// Execute returns zero on success or an HTTP-style status code describing
// the failure.
type Catalog interface {
	Apps() []App
	Running() int
	Execute(appID int, app App, s *LaunchSession) int
	Terminate()
	ImagePath(appID int) string
}

// MemCatalog is a Catalog over a fixed app list, tracking the running app
// in memory.
type MemCatalog struct {
	mut     sync.Mutex
	apps    []App
	running int
}

func NewMemCatalog(apps []App) *MemCatalog {
	return &MemCatalog{
		mut:  sync.NewMutex(),
		apps: apps,
	}
}

func (c *MemCatalog) Apps() []App {
	c.mut.Lock()
	defer c.mut.Unlock()
	out := make([]App, len(c.apps))
	copy(out, c.apps)
	return out
}

func (c *MemCatalog) Running() int {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.running
}

// Execute marks the app as running. The command line is validated up
// front so a malformed quoting error surfaces at launch time rather than
// when the process supervisor picks it up.
func (c *MemCatalog) Execute(appID int, app App, s *LaunchSession) int {
	if app.Cmd != "" {
		if _, err := shellquote.Split(app.Cmd); err != nil {
			dl.Warnln("app", app.Name, "has an unparseable command:", err)
			return 503
		}
	}

	c.mut.Lock()
	defer c.mut.Unlock()
	c.running = appID
	dl.Debugln("app", app.Name, "running for session", s.ID)
	return 0
}

func (c *MemCatalog) Terminate() {
	c.mut.Lock()
	defer c.mut.Unlock()
	dl.Debugln("terminating app", c.running)
	c.running = 0
}

func (c *MemCatalog) ImagePath(appID int) string {
	c.mut.Lock()
	defer c.mut.Unlock()
	for _, app := range c.apps {
		if app.ID == appID {
			return app.ImagePath
		}
	}
	return ""
}
