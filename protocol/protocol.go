// Package protocol implements newline-delimited framing over a byte stream.
//
// Each frame is one UTF-8 line terminated by '\n'. A trailing '\r' is tolerated and
// stripped. Blank lines carry no frame and are skipped.
//
//	{"jsonrpc":"2.0","id":1,"method":"ping"}\n
//	{"jsonrpc":"2.0","method":"notifications/initialized"}\r\n
//
// Reads are sequential per connection. Writes go through Writer, whose mutex makes every
// frame a single Write call, so concurrent responders never interleave bytes.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
)

// DefaultMaxFrameSize bounds one line. Longer lines are discarded, not buffered.
const DefaultMaxFrameSize = 4 << 20

var (
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrEmbeddedNewline = errors.New("frame contains a newline")
)

// Encode writes frame followed by '\n' using exactly one Write.
// The caller must serialize calls if w is shared; Writer does that.
func Encode(w io.Writer, frame []byte) error {
	if bytes.IndexByte(frame, '\n') >= 0 {
		return ErrEmbeddedNewline
	}
	buf := make([]byte, len(frame)+1)
	copy(buf, frame)
	buf[len(frame)] = '\n'
	_, err := w.Write(buf)
	return err
}

// Reader splits a stream into frames.
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader returns a Reader that rejects frames longer than maxSize bytes.
// maxSize <= 0 selects DefaultMaxFrameSize.
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Reader{br: bufio.NewReader(r), max: maxSize}
}

// ReadFrame returns the next non-blank frame without its line terminator.
//
// ErrFrameTooLarge is not fatal: the oversized line has been consumed and the next call
// continues with the following line. A final line without '\n' is returned before io.EOF.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		frame, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		return frame, nil
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var buf []byte
	tooLarge := false
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLarge {
			// +2 leaves room for the "\r\n" terminator.
			if len(buf)+len(chunk) > r.max+2 {
				tooLarge = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLarge {
				return nil, ErrFrameTooLarge
			}
			return r.finish(buf)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLarge {
				return nil, ErrFrameTooLarge
			}
			if len(buf) == 0 {
				return nil, io.EOF
			}
			return r.finish(buf)
		default:
			return nil, err
		}
	}
}

func (r *Reader) finish(line []byte) ([]byte, error) {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) > r.max {
		return nil, ErrFrameTooLarge
	}
	return line, nil
}

// Writer serializes frames onto a shared stream. One Writer per connection.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one complete line. Safe for concurrent use.
func (w *Writer) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Encode(w.w, frame)
}
