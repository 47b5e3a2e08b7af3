// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package nvhttp

import (
	"os"
	"strings"

	"github.com/birwin88/apollo/lib/logger"
)

var (
	l = logger.DefaultLogger.NewFacility("nvhttp", "GameStream control endpoints")
)

func init() {
	l.SetDebug("nvhttp", strings.Contains(os.Getenv("APTRACE"), "nvhttp") || os.Getenv("APTRACE") == "all")
}
