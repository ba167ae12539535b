package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen bounds a single frame. Requests and events are tiny; anything
// near this size is a broken or hostile peer.
const MaxFrameLen = 1 << 20

var errFrameTooLarge = errors.New("ipc: frame too large")

// WriteFrame JSON-encodes v and writes it as one length-prefixed frame:
// uint32 little-endian payload length, then the payload.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: encode frame: %w", err)
	}
	if len(payload) > MaxFrameLen {
		return errFrameTooLarge
	}

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame and returns the raw payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(length[:])
	if n > MaxFrameLen {
		return nil, errFrameTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
