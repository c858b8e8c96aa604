package sandbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/docker/docker/pkg/stdcopy"
)

// frameHeaderLen is the size of a multiplexed frame header: one stream tag,
// three reserved bytes and a big-endian uint32 payload length.
const frameHeaderLen = 8

// readChunkSize bounds a single read from the exec stream.
const readChunkSize = 32 * 1024

// Demuxer decodes an exec output stream that is either multiplexed into
// frames or raw (TTY) bytes, with no prior indication of which.
//
// Each Write is treated as one chunk. A chunk whose buffered data starts with
// a valid stream tag is parsed as frames; anything else is passed through as
// raw text. Raw output that happens to start a chunk with byte 0, 1 or 2 is
// misread as a frame header. That ambiguity is inherent to the protocol.
type Demuxer struct {
	buf []byte
	out bytes.Buffer
}

// Write appends a chunk and decodes every complete frame it makes available.
// It never fails.
func (d *Demuxer) Write(chunk []byte) (int, error) {
	d.buf = append(d.buf, chunk...)

	for len(d.buf) > 0 {
		if !isStreamTag(d.buf[0]) {
			d.out.Write(d.buf)
			d.buf = d.buf[:0]
			break
		}
		if len(d.buf) < frameHeaderLen {
			// Partial header.
			break
		}
		// Compared as uint64 so a 4 GiB length cannot overflow a 32-bit int.
		size := uint64(binary.BigEndian.Uint32(d.buf[4:frameHeaderLen]))
		if uint64(len(d.buf)) < frameHeaderLen+size {
			// Partial payload.
			break
		}
		end := frameHeaderLen + int(size)
		d.out.Write(d.buf[frameHeaderLen:end])
		d.buf = d.buf[end:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(chunk), nil
}

// String returns the output decoded so far.
func (d *Demuxer) String() string {
	return d.out.String()
}

// Pending returns the number of buffered bytes that do not yet form a
// complete frame.
func (d *Demuxer) Pending() int {
	return len(d.buf)
}

// Demultiplex reads r until end of stream and returns the decoded output.
// An incomplete trailing frame is dropped. On a read error the output decoded
// before the error is returned along with it.
func Demultiplex(r io.Reader) (string, error) {
	var d Demuxer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			_, _ = d.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return d.String(), nil
		}
		if err != nil {
			return d.String(), err
		}
	}
}

func isStreamTag(b byte) bool {
	switch stdcopy.StdType(b) {
	case stdcopy.Stdin, stdcopy.Stdout, stdcopy.Stderr:
		return true
	}
	return false
}
