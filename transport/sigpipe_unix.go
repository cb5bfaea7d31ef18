// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

//go:build unix

package transport

import "golang.org/x/sys/unix"

// sigpipeWord/sigpipeBit locate SIGPIPE's bit within a Sigset_t's
// word array (the Val field is an array of uint64; signals are
// 1-indexed).
var (
	sigpipeWord = (int(unix.SIGPIPE) - 1) / 64
	sigpipeBit  = uint64(1) << uint((int(unix.SIGPIPE)-1)%64)
)

func sigpipeMember(set *unix.Sigset_t) bool {
	return set.Val[sigpipeWord]&sigpipeBit != 0
}

func sigpipeAdd(set *unix.Sigset_t) {
	set.Val[sigpipeWord] |= sigpipeBit
}

// suppressSigpipe blocks SIGPIPE for the calling thread ahead of a
// write that may hit a broken pipe, unless it is already pending
// (the peer already hung up) or already blocked (caller's own
// policy). It reports exactly what it changed so restoreSigpipe can
// undo only that.
func suppressSigpipe() (alreadyPending, weBlocked bool) {
	var pending unix.Sigset_t
	if unix.Sigpending(&pending) == nil {
		alreadyPending = sigpipeMember(&pending)
	}
	if alreadyPending {
		return
	}
	var block, old unix.Sigset_t
	sigpipeAdd(&block)
	if unix.PthreadSigmask(unix.SIG_BLOCK, &block, &old) == nil {
		weBlocked = !sigpipeMember(&old)
	}
	return
}

// restoreSigpipe undoes exactly what suppressSigpipe changed. It
// never clears a SIGPIPE that was already pending before the write
// began.
func restoreSigpipe(alreadyPending, weBlocked bool) {
	if alreadyPending || !weBlocked {
		return
	}
	var unblock unix.Sigset_t
	sigpipeAdd(&unblock)
	_ = unix.PthreadSigmask(unix.SIG_UNBLOCK, &unblock, nil)
}
