// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package events

import (
	"os"
	"strings"

	"github.com/birwin88/apollo/lib/logger"
)

var (
	dl = logger.DefaultLogger.NewFacility("events", "Event generation and logging")
)

func init() {
	dl.SetDebug("events", strings.Contains(os.Getenv("APTRACE"), "events") || os.Getenv("APTRACE") == "all")
}
