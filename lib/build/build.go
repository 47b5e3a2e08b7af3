// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package build exposes the version identity of the running binary.
package build

import (
	"fmt"
	"runtime"
)

var (
	// Injected by build script
	Version = "unknown-dev"

	// Set by init()
	LongVersion string
)

const (
	// GfeVersion is the GeForce Experience compatibility string reported to
	// Moonlight clients. They gate protocol features on it, so it stays fixed.
	GfeVersion = "3.23.0.74"
)

func init() {
	LongVersion = fmt.Sprintf("apollo %s (%s %s-%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
