// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package transport

import "errors"

// ErrClosed is returned by write on a Connection that has already
// been closed.
var ErrClosed = errors.New("connection closed")
