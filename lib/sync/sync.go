// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sync provides mutexes that can log slow lock acquisition and long
// hold times when debugging is enabled.
package sync

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

type Mutex interface {
	Lock()
	Unlock()
}

type RWMutex interface {
	Mutex
	RLock()
	RUnlock()
}

type WaitGroup interface {
	Add(int)
	Done()
	Wait()
}

func NewMutex() Mutex {
	if debug {
		return &loggedMutex{}
	}
	return &sync.Mutex{}
}

func NewRWMutex() RWMutex {
	if debug {
		return &loggedRWMutex{
			unlockers: make(chan holder, 1024),
		}
	}
	return &sync.RWMutex{}
}

func NewWaitGroup() WaitGroup {
	if debug {
		return &loggedWaitGroup{}
	}
	return &sync.WaitGroup{}
}

type holder struct {
	at   string
	time time.Time
	goid int
}

func (h holder) String() string {
	if h.at == "" {
		return "not held"
	}
	return fmt.Sprintf("at %s goid: %d for %s", h.at, h.goid, time.Since(h.time))
}

type loggedMutex struct {
	sync.Mutex
	holder holder
}

func (m *loggedMutex) Lock() {
	m.Mutex.Lock()
	m.holder = getHolder()
}

func (m *loggedMutex) Unlock() {
	duration := time.Since(m.holder.time)
	if duration >= threshold {
		l.Debugf("Mutex held for %v. Locked at %s unlocked at %s", duration, m.holder.at, getHolder().at)
	}
	m.holder = holder{}
	m.Mutex.Unlock()
}

type loggedRWMutex struct {
	sync.RWMutex
	holder    holder
	unlockers chan holder
}

func (m *loggedRWMutex) Lock() {
	start := time.Now()
	m.RWMutex.Lock()
	m.holder = getHolder()

	duration := m.holder.time.Sub(start)
	if duration > threshold {
		var unlockerStrings []string
	loop:
		for {
			select {
			case holder := <-m.unlockers:
				unlockerStrings = append(unlockerStrings, holder.String())
			default:
				break loop
			}
		}
		l.Debugf("RWMutex took %v to lock. Locked at %s. RUnlockers while locking: %s", duration, m.holder.at, unlockerStrings)
	}
}

func (m *loggedRWMutex) Unlock() {
	duration := time.Since(m.holder.time)
	if duration >= threshold {
		l.Debugf("RWMutex held for %v. Locked at %s: unlocked at %s", duration, m.holder.at, getHolder().at)
	}
	m.holder = holder{}
	m.RWMutex.Unlock()
}

func (m *loggedRWMutex) RUnlock() {
	select {
	case m.unlockers <- getHolder():
	default:
	}
	m.RWMutex.RUnlock()
}

type loggedWaitGroup struct {
	sync.WaitGroup
}

func (wg *loggedWaitGroup) Wait() {
	start := time.Now()
	wg.WaitGroup.Wait()
	duration := time.Since(start)
	if duration >= threshold {
		l.Debugf("WaitGroup took %v at %s", duration, getHolder().at)
	}
}

func getHolder() holder {
	_, file, line, _ := runtime.Caller(2)
	file = filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file))
	return holder{
		at:   fmt.Sprintf("%s:%d", file, line),
		time: time.Now(),
		goid: goid(),
	}
}

func goid() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := string(buf[10:n])
	for i, r := range idField {
		if r < '0' || r > '9' {
			idField = idField[:i]
			break
		}
	}
	var id int
	fmt.Sscanf(idField, "%d", &id)
	return id
}
