// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

//go:build !unix

package transport

// Platforms outside the "unix" build tag set (Windows) do not raise
// SIGPIPE on writes to a closed socket; nothing to suppress.
func suppressSigpipe() (alreadyPending, weBlocked bool) { return false, false }

func restoreSigpipe(alreadyPending, weBlocked bool) {}
