package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire framing built on a fixed binary header idiom but sized down to
// what the dispatch
// protocol actually needs: a call is a name and a wire.Encode'd payload,
// nothing else travels alongside it.
//
// Frame layout:
//
//	uint32 totalLen   // 1 + len(name) + len(payload), BigEndian
//	uint8  nameLen
//	[]byte name       // ASCII RPC name, e.g. "hint_io_begin"
//	[]byte payload    // wire.Encode output
const maxNameLen = 255

// maxFrameLen bounds a single frame so a corrupt or hostile length
// prefix cannot make ReadFrame allocate unbounded memory.
const maxFrameLen = 16 << 20 // 16 MiB

// WriteFrame writes name and payload as one frame to w.
func WriteFrame(w io.Writer, name string, payload []byte) error {
	if len(name) > maxNameLen {
		return fmt.Errorf("rpc: name %q exceeds %d bytes", name, maxNameLen)
	}
	total := 1 + len(name) + len(payload)

	header := make([]byte, 5, 5+total)
	binary.BigEndian.PutUint32(header[:4], uint32(total))
	header[4] = byte(len(name))

	buf := append(header, name...)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame from r and returns the RPC name and payload.
func ReadFrame(r io.Reader) (name string, payload []byte, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total == 0 || uint64(total) > maxFrameLen {
		return "", nil, fmt.Errorf("rpc: invalid frame length %d", total)
	}

	var nameLenBuf [1]byte
	if _, err = io.ReadFull(r, nameLenBuf[:]); err != nil {
		return "", nil, err
	}
	nameLen := int(nameLenBuf[0])
	if nameLen > int(total)-1 {
		return "", nil, fmt.Errorf("rpc: name length %d exceeds frame body %d", nameLen, total-1)
	}

	body := make([]byte, int(total)-1)
	if _, err = io.ReadFull(r, body); err != nil {
		return "", nil, err
	}

	name = string(body[:nameLen])
	payload = body[nameLen:]
	return name, payload, nil
}
