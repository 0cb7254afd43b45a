/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

// Version is the stream server release, overridden at build time via
// -ldflags "-X ...version.Version=...".
var Version = "0.1.0-dev"
