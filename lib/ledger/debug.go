// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ledger

import (
	"os"
	"strings"

	"github.com/birwin88/apollo/lib/logger"
)

var (
	dl = logger.DefaultLogger.NewFacility("ledger", "Paired device ledger and certificate verifier")
)

func init() {
	dl.SetDebug("ledger", strings.Contains(os.Getenv("APTRACE"), "ledger") || os.Getenv("APTRACE") == "all")
}
