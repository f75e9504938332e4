// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import "fmt"

// Populated at build time via ldflags.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

const AppName = "streamsel"

// UserAgent identifies this build on outgoing HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", AppName, Version)
}
