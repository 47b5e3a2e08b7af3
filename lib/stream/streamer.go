// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package stream

import (
	"github.com/birwin88/apollo/lib/sync"
)

// A Streamer accepts launch sessions and reports how many are active, so
// the control endpoints can enforce the channel limit.
type Streamer interface {
	SessionCount() int
	RaiseSession(*LaunchSession)
}

// Broker is an in-process Streamer. Raised sessions queue until the RTSP
// side claims them; claimed sessions count as active until released.
type Broker struct {
	mut     sync.Mutex
	pending []*LaunchSession
	active  int
}

func NewBroker() *Broker {
	return &Broker{mut: sync.NewMutex()}
}

func (b *Broker) SessionCount() int {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.active
}

func (b *Broker) RaiseSession(s *LaunchSession) {
	b.mut.Lock()
	defer b.mut.Unlock()
	dl.Debugln("session", s.ID, "raised for app", s.AppID)
	b.pending = append(b.pending, s)
}

// ClaimSession pops the oldest pending session, marking it active. It
// returns nil when nothing is pending.
func (b *Broker) ClaimSession() *LaunchSession {
	b.mut.Lock()
	defer b.mut.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	s := b.pending[0]
	b.pending = b.pending[1:]
	b.active++
	return s
}

// ReleaseSession marks one active session as finished.
func (b *Broker) ReleaseSession() {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.active > 0 {
		b.active--
	}
}
