// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package stream

// Codec indexes the per-codec capability tables.
type Codec int

const (
	CodecH264 Codec = iota
	CodecHEVC
	CodecAV1
)

// A VideoProbe reports encoder capabilities. Mode values: 0 or 1 means the
// codec is unavailable, 2 means 8-bit, 3 means 10-bit support.
type VideoProbe interface {
	// ProbeEncoders re-detects encoders, reporting whether the probe
	// FAILED.
	ProbeEncoders() bool
	ActiveHEVCMode() int
	ActiveAV1Mode() int
	YUV444Supported(codec Codec) bool
}

// StaticProbe is a VideoProbe with fixed answers.
type StaticProbe struct {
	HEVCMode int
	AV1Mode  int
	YUV444   [3]bool
	Fail     bool
}

func (p *StaticProbe) ProbeEncoders() bool {
	return p.Fail
}

func (p *StaticProbe) ActiveHEVCMode() int {
	return p.HEVCMode
}

func (p *StaticProbe) ActiveAV1Mode() int {
	return p.AV1Mode
}

func (p *StaticProbe) YUV444Supported(codec Codec) bool {
	return p.YUV444[codec]
}
