// File: protocol/frame.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame-level helpers: encoding frames for the wire and the blocking
// reader used during the synchronous handshake phase.

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/momentics/pgsession/api"
)

// frameHeaderLen is one type byte plus the self-inclusive length word.
const frameHeaderLen = 5

// MaxFramePayload bounds a single frame's declared length to protect
// against malformed headers exhausting memory.
const MaxFramePayload = 1 << 26 // 64 MiB

// AppendFrame appends a typed frame to dst and returns the extended
// slice. The length word counts itself plus the payload.
func AppendFrame(dst []byte, typ byte, payload []byte) []byte {
	dst = append(dst, typ)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)+4))
	return append(dst, payload...)
}

// ReadFrame reads exactly one frame from r, blocking until complete.
// Only used during the handshake; steady-state reads go through the
// Reassembler.
func ReadFrame(r io.Reader) (api.Frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return api.Frame{}, err
	}
	length := binary.BigEndian.Uint32(hdr[1:])
	if length < 4 || length > MaxFramePayload {
		return api.Frame{}, fmt.Errorf("invalid frame length %d", length)
	}
	payload := make([]byte, length-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return api.Frame{}, err
	}
	return api.Frame{Type: hdr[0], Payload: payload}, nil
}

// QuoteIdentifier quotes name for safe interpolation into LISTEN and
// UNLISTEN statements.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// cstring reads a NUL-terminated string from buf, returning the string
// and the remainder after the terminator.
func cstring(buf []byte) (string, []byte, error) {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return "", nil, fmt.Errorf("unterminated string in message")
	}
	return string(buf[:i]), buf[i+1:], nil
}

// appendCString appends s plus a NUL terminator.
func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}
