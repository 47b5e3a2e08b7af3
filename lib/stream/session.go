// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package stream holds the launch session model handed to the RTSP layer,
// and the collaborator interfaces the control endpoints drive: the app
// catalog, the streamer and the encoder probe.
package stream

import (
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/birwin88/apollo/lib/crypto"
	"github.com/birwin88/apollo/lib/rand"
)

// A LaunchSession carries everything the RTSP collaborator needs to serve
// one streaming connection. UniqueID is the server-assigned ledger UUID of
// the paired client, never the client's self-reported unique ID.
type LaunchSession struct {
	ID int

	GCMKey        []byte
	IV            []byte // 16 bytes, first four are the big-endian rikeyid
	RTSPCipher    cipher.AEAD
	RTSPIVCounter uint32
	RTSPURLScheme string

	AVPingPayload      string
	ControlConnectData uint32

	Width  int
	Height int
	FPS    int

	DeviceName string
	UniqueID   string
	AppID      int

	EnableSops     bool
	SurroundInfo   int
	SurroundParams string
	GCMap          int
	EnableHDR      bool
	VirtualDisplay bool
	ScaleFactor    int
	HostAudio      bool
}

// NewLaunchSession builds a session from the launch/resume query
// parameters. Encrypted RTSP is enabled when the client reports corever of
// at least 1; the returned scheme is rtspenc:// in that case.
func NewLaunchSession(id int, hostAudio bool, query url.Values, clientUUID string) (*LaunchSession, error) {
	gcmKey, err := hex.DecodeString(query.Get("rikey"))
	if err != nil {
		return nil, fmt.Errorf("invalid rikey: %w", err)
	}

	s := &LaunchSession{
		ID:     id,
		GCMKey: gcmKey,

		DeviceName: argDefault(query, "devicename", "unknown"),
		UniqueID:   clientUUID,
		AppID:      atoiDefault(query.Get("appid"), 0),

		EnableSops:     atoiDefault(query.Get("sops"), 0) != 0,
		SurroundInfo:   atoiDefault(query.Get("surroundAudioInfo"), 196610),
		SurroundParams: query.Get("surroundParams"),
		GCMap:          atoiDefault(query.Get("gcmap"), 0),
		EnableHDR:      atoiDefault(query.Get("hdrMode"), 0) != 0,
		VirtualDisplay: atoiDefault(query.Get("virtualDisplay"), 0) != 0,
		ScaleFactor:    atoiDefault(query.Get("scaleFactor"), 100),
		HostAudio:      hostAudio,
	}

	s.Width, s.Height, s.FPS = parseMode(argDefault(query, "mode", "0x0x0"))

	if atoiDefault(query.Get("corever"), 0) >= 1 {
		aead, err := crypto.NewGCM(gcmKey)
		if err != nil {
			return nil, fmt.Errorf("invalid rikey: %w", err)
		}
		s.RTSPCipher = aead
		s.RTSPIVCounter = 0
		s.RTSPURLScheme = "rtspenc://"
	} else {
		s.RTSPURLScheme = "rtsp://"
	}

	s.IV = make([]byte, 16)
	binary.BigEndian.PutUint32(s.IV, uint32(atoiDefault(query.Get("rikeyid"), 0)))

	s.AVPingPayload = hex.EncodeToString(rand.Bytes(8))
	s.ControlConnectData = uint32(rand.Uint64())

	return s, nil
}

// parseMode splits a WxHxF display mode string. Missing or garbled
// segments come out as zero.
func parseMode(mode string) (width, height, fps int) {
	parts := strings.SplitN(mode, "x", 3)
	if len(parts) > 0 {
		width = atoiDefault(parts[0], 0)
	}
	if len(parts) > 1 {
		height = atoiDefault(parts[1], 0)
	}
	if len(parts) > 2 {
		fps = atoiDefault(parts[2], 0)
	}
	return width, height, fps
}

func argDefault(query url.Values, key, def string) string {
	if !query.Has(key) {
		return def
	}
	return query.Get(key)
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
