// File: protocol/reassembler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Turns an unbounded byte stream into complete protocol frames,
// buffering incomplete tails across reads. Never blocks waiting for
// more bytes: an absent full frame simply buffers and returns.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/pgsession/api"
)

// Reassembler holds the leftover bytes of the last partial frame.
// Not safe for concurrent use; owned by the session actor.
type Reassembler struct {
	tail []byte
}

// Tail returns the number of buffered leftover bytes.
func (ra *Reassembler) Tail() int {
	return len(ra.tail)
}

// Feed concatenates data to the buffered tail and emits every complete
// frame present, in order, before returning. The remainder becomes the
// new tail. Payload slices passed to emit are owned by the callee.
// A non-nil error from emit or a malformed header stops processing.
func (ra *Reassembler) Feed(data []byte, emit func(api.Frame) error) error {
	buf := data
	if len(ra.tail) > 0 {
		buf = append(ra.tail, data...)
	}
	for len(buf) >= frameHeaderLen {
		length := binary.BigEndian.Uint32(buf[1:frameHeaderLen])
		if length < 4 || length > MaxFramePayload {
			ra.tail = nil
			return fmt.Errorf("invalid frame length %d for type %q", length, buf[0])
		}
		total := 1 + int(length)
		if len(buf) < total {
			break
		}
		payload := make([]byte, length-4)
		copy(payload, buf[frameHeaderLen:total])
		if err := emit(api.Frame{Type: buf[0], Payload: payload}); err != nil {
			ra.tail = nil
			return err
		}
		buf = buf[total:]
	}
	// Copy the tail: buf may alias the caller's read buffer, which is
	// recycled after Feed returns.
	ra.tail = append(ra.tail[:0:0], buf...)
	return nil
}
