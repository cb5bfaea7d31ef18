// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package event

import "encoding/binary"

// Status is the outcome of a single Parse call.
type Status int

const (
	// Empty means no STX byte was found before the end of the buffer.
	Empty Status = iota
	// Truncated means a frame started but did not fully fit in the
	// buffer. The returned cursor then lies past the partial frame, so
	// a caller expecting more bytes keeps the buffer from the cursor it
	// passed in and parses again once they arrive. Truncated is also
	// returned for a header declaring a negative length; the returned
	// cursor then lies just past that header.
	Truncated
	// OK means a complete, well-formed event was decoded.
	OK
)

func (s Status) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Truncated:
		return "TRUNCATED"
	case OK:
		return "OK"
	default:
		return "UNKNOWN"
	}
}

const (
	stx = 0x02
	etx = 0x03

	// headerSize is STX(1) + id(4) + sender(1) + receiver(1) + writeback(1) + length(4).
	headerSize = 12
)

// Encode serializes an event into its wire representation. It fails
// only if the implicit allocation for the result buffer fails, which
// in Go surfaces as an out-of-memory panic rather than an error; the
// error return exists for symmetry with Parse and is always nil.
func Encode(e *Event) ([]byte, error) {
	n := len(e.Payload)
	buf := make([]byte, headerSize+n*4+1)

	buf[0] = stx
	binary.LittleEndian.PutUint32(buf[1:5], uint32(e.ID))
	buf[5] = byte(e.Sender)
	buf[6] = byte(e.Receiver)
	if e.Writeback {
		buf[7] = 1
	}
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n))
	for i, w := range e.Payload {
		off := headerSize + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(w))
	}
	buf[len(buf)-1] = etx
	return buf, nil
}

// Parse scans buf starting at cursor for the next event frame. It
// returns the decoded event (nil unless status is OK), the cursor to
// resume scanning from, and the outcome status.
//
// Resynchronization: a short or malformed frame never wedges the
// scan. On Truncated the cursor is left just past where the frame's
// header or payload would have ended, so the next call keeps looking
// for a fresh STX. A garbage prefix/suffix containing no STX is
// skipped silently (status Empty).
func Parse(buf []byte, cursor int) (ev *Event, newCursor int, status Status) {
	n := len(buf)
	i := cursor
	for i < n && buf[i] != stx {
		i++
	}
	if i >= n {
		return nil, n, Empty
	}
	if i+headerSize > n {
		// header itself doesn't fit; nothing useful to resume from
		// except the end of the buffer.
		return nil, n, Truncated
	}

	id := int32(binary.LittleEndian.Uint32(buf[i+1 : i+5]))
	sender := int8(buf[i+5])
	receiver := int8(buf[i+6])
	writeback := buf[i+7] != 0
	length := int32(binary.LittleEndian.Uint32(buf[i+8 : i+12]))
	payloadStart := i + headerSize

	if length < 0 {
		// malformed header; resume right after it and let the next STX
		// re-synchronize.
		return nil, payloadStart, Truncated
	}

	need := int64(length) * 4
	if int64(payloadStart)+need > int64(n) {
		// payload doesn't fully fit yet (or never will, for garbage
		// claiming an implausible length); nothing more to scan here.
		return nil, n, Truncated
	}

	var payload []int32
	if length > 0 {
		payload = make([]int32, length)
		for k := 0; k < int(length); k++ {
			off := payloadStart + k*4
			payload[k] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		}
	}

	etxIdx := payloadStart + int(length)*4
	newCursor = etxIdx
	if etxIdx < n && buf[etxIdx] == etx {
		newCursor = etxIdx + 1
	}
	// else: ETX missing or not yet arrived; tolerated, the next STX
	// found from here re-synchronizes the stream.

	ev = &Event{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Writeback: writeback,
		Payload:   payload,
	}
	return ev, newCursor, OK
}
