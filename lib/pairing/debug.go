// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pairing

import (
	"os"
	"strings"

	"github.com/birwin88/apollo/lib/logger"
)

var (
	dl = logger.DefaultLogger.NewFacility("pairing", "Client pairing handshake and OTP side channel")
)

func init() {
	dl.SetDebug("pairing", strings.Contains(os.Getenv("APTRACE"), "pairing") || os.Getenv("APTRACE") == "all")
}
