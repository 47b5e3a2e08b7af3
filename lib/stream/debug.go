// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package stream

import (
	"os"
	"strings"

	"github.com/birwin88/apollo/lib/logger"
)

var (
	dl = logger.DefaultLogger.NewFacility("stream", "Launch sessions and app catalog")
)

func init() {
	dl.SetDebug("stream", strings.Contains(os.Getenv("APTRACE"), "stream") || os.Getenv("APTRACE") == "all")
}
