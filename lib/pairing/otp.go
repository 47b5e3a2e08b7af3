// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pairing

import (
	"time"

	"github.com/birwin88/apollo/lib/events"
	"github.com/birwin88/apollo/lib/rand"
)

// OTPExpiry is how long an issued one-time PIN stays valid.
const OTPExpiry = 3 * time.Minute

// otpState is the single process-wide OTP slot. A new request overwrites
// the previous one.
type otpState struct {
	pin        string
	passphrase string
	deviceName string
	createdAt  time.Time
}

func (o *otpState) expired() bool {
	return time.Since(o.createdAt) > OTPExpiry
}

// RequestOTP mints a four digit PIN tied to the given passphrase. It
// returns the empty string for passphrases shorter than four characters.
func (m *Manager) RequestOTP(passphrase, deviceName string) string {
	if len(passphrase) < 4 {
		return ""
	}

	m.mut.Lock()
	defer m.mut.Unlock()

	pin := rand.Alphabet(4, rand.Digits)
	m.otp = &otpState{
		pin:        pin,
		passphrase: passphrase,
		deviceName: deviceName,
		createdAt:  time.Now(),
	}
	dl.Debugln("issued OTP for device", deviceName)
	m.evLogger.Log(events.OTPIssued, map[string]string{
		"deviceName": deviceName,
	})
	return pin
}
