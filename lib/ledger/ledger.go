// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ledger implements the persistent set of paired client
// certificates, together with the verifier that maps TLS peer certificates
// back to their ledger entries.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/birwin88/apollo/lib/osutil"
	"github.com/birwin88/apollo/lib/sync"
)

// A NamedCert is one paired client: a human-readable name, the client
// certificate in PEM form, and a ledger-assigned UUID. The UUID is never
// derived from the certificate.
type NamedCert struct {
	Name    string `json:"name"`
	CertPEM string `json:"cert"`
	UUID    string `json:"uuid"`
}

type stateFile struct {
	Root stateRoot `json:"root"`
}

type stateRoot struct {
	UniqueID     string        `json:"uniqueid"`
	NamedDevices []NamedCert   `json:"named_devices,omitempty"`
	Devices      []legacyEntry `json:"devices,omitempty"`
}

// legacyEntry is the pre-naming state shape, read-compatible only. Its
// certificates are upgraded to NamedCerts on first save.
type legacyEntry struct {
	Certs []string `json:"certs"`
}

// A Ledger is the ordered collection of paired clients plus the server
// instance UUID. In fresh mode nothing is read from or written to disk and
// the in-memory state is authoritative.
type Ledger struct {
	path  string
	fresh bool

	mut      sync.Mutex
	uniqueID string
	clients  []NamedCert
	verifier *Verifier
}

func New(path string, fresh bool) *Ledger {
	return &Ledger{
		path:     path,
		fresh:    fresh,
		mut:      sync.NewMutex(),
		verifier: NewVerifier(),
	}
}

// Load reads the state file, importing the legacy shape if that is what is
// on disk. A missing file mints a fresh server unique ID and leaves the
// ledger empty. The verifier is rebuilt from scratch.
func (l *Ledger) Load() error {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.loadLocked()
}

func (l *Ledger) loadLocked() error {
	l.clients = nil

	if !l.fresh {
		bs, err := os.ReadFile(l.path)
		if err == nil {
			var state stateFile
			if err := json.Unmarshal(bs, &state); err != nil {
				return fmt.Errorf("parsing %s: %w", l.path, err)
			}
			l.uniqueID = state.Root.UniqueID
			l.clients = append(l.clients, state.Root.NamedDevices...)
			for _, dev := range state.Root.Devices {
				for _, cert := range dev.Certs {
					l.clients = append(l.clients, NamedCert{
						CertPEM: cert,
						UUID:    uuid.NewString(),
					})
				}
			}
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	if l.uniqueID == "" {
		l.uniqueID = uuid.NewString()
		dl.Debugln("minted server unique ID", l.uniqueID)
	}

	l.rebuildVerifierLocked()
	return nil
}

// Save deduplicates, resolves name collisions and writes the state file
// atomically. In fresh mode it only performs the in-memory normalization.
func (l *Ledger) Save() error {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	l.clients = normalize(l.clients)
	l.rebuildVerifierLocked()

	if l.fresh {
		return nil
	}

	state := stateFile{Root: stateRoot{
		UniqueID:     l.uniqueID,
		NamedDevices: l.clients,
	}}
	bs, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	w, err := osutil.CreateAtomic(l.path)
	if err != nil {
		return err
	}
	if _, err := w.Write(bs); err != nil {
		return err
	}
	return w.Close()
}

// normalize collapses duplicate certificates and suffixes colliding display
// names with " (2)", " (3)" and so on, in insertion order. Running it twice
// yields the same result.
func normalize(clients []NamedCert) []NamedCert {
	seen := make(map[string]bool, len(clients))
	out := make([]NamedCert, 0, len(clients))
	nameCount := make(map[string]int)

	for _, nc := range clients {
		if seen[nc.CertPEM] {
			continue
		}
		seen[nc.CertPEM] = true

		base := baseName(nc.Name)
		nameCount[base]++
		if nameCount[base] > 1 {
			nc.Name = fmt.Sprintf("%s (%d)", base, nameCount[base])
		} else {
			nc.Name = base
		}
		out = append(out, nc)
	}
	return out
}

// baseName strips a previously assigned " (N)" collision suffix.
func baseName(name string) string {
	if i := strings.LastIndex(name, " ("); i >= 0 && strings.HasSuffix(name, ")") {
		suffix := name[i+2 : len(name)-1]
		if suffix != "" && strings.Trim(suffix, "0123456789") == "" {
			return name[:i]
		}
	}
	return name
}

// AddAuthorizedClient inserts the client and runs the save-then-reload
// round trip so the verifier recognizes it before the call returns.
func (l *Ledger) AddAuthorizedClient(nc NamedCert) error {
	l.mut.Lock()
	defer l.mut.Unlock()

	dl.Debugln("adding authorized client", nc.Name, nc.UUID)
	l.clients = append(l.clients, nc)
	if err := l.saveLocked(); err != nil {
		return err
	}
	if l.fresh {
		return nil
	}
	return l.loadLocked()
}

// UnpairClient removes the client with the given UUID. It reports whether
// an entry was removed.
func (l *Ledger) UnpairClient(id string) (bool, error) {
	l.mut.Lock()
	defer l.mut.Unlock()

	for i, nc := range l.clients {
		if nc.UUID == id {
			dl.Debugln("unpairing client", nc.Name, nc.UUID)
			l.clients = append(l.clients[:i], l.clients[i+1:]...)
			return true, l.saveLocked()
		}
	}
	return false, nil
}

// EraseAllClients drops every paired client.
func (l *Ledger) EraseAllClients() error {
	l.mut.Lock()
	defer l.mut.Unlock()

	dl.Debugln("erasing all", len(l.clients), "clients")
	l.clients = nil
	return l.saveLocked()
}

// Clients returns a copy of the current entries.
func (l *Ledger) Clients() []NamedCert {
	l.mut.Lock()
	defer l.mut.Unlock()
	out := make([]NamedCert, len(l.clients))
	copy(out, l.clients)
	return out
}

// UniqueID returns the persisted server instance UUID.
func (l *Ledger) UniqueID() string {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.uniqueID
}

// Verifier returns the certificate verifier backed by this ledger.
func (l *Ledger) Verifier() *Verifier {
	return l.verifier
}

func (l *Ledger) rebuildVerifierLocked() {
	l.verifier.Clear()
	for _, nc := range l.clients {
		if err := l.verifier.Add(nc); err != nil {
			dl.Infoln("ignoring unparseable ledger certificate for", nc.Name, err)
		}
	}
}
