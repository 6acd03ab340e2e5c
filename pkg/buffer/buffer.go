// Package buffer turns a one-pass chunk source into a seekable stream.
//
// A Stream keeps every byte it has pulled from its source, so seeking
// backwards is always possible within what has been read so far, while
// seeking or reading forwards pulls just enough additional chunks to satisfy
// the request. The stream is finite and not restartable: once the source is
// exhausted no further bytes ever appear.
package buffer

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by every operation on a closed Stream.
var ErrClosed = errors.New("buffer: I/O operation on closed stream")

// ChunkSource yields the next chunk of a body. It returns io.EOF, possibly
// together with a final chunk, once the body is complete.
type ChunkSource func() ([]byte, error)

// FromReader adapts r into a ChunkSource reading at most chunkSize bytes per
// pull.
func FromReader(r io.Reader, chunkSize int) ChunkSource {
	if chunkSize <= 0 {
		chunkSize = 8192
	}
	return func() ([]byte, error) {
		p := make([]byte, chunkSize)
		n, err := r.Read(p)
		return p[:n], err
	}
}

// Stream is a buffered cursor over a ChunkSource. It is not safe for
// concurrent use.
type Stream struct {
	src  ChunkSource
	buf  []byte
	pos  int
	done bool
	err  error

	closeOnce sync.Once
	closeErr  error
	closed    bool
	onClose   func() error
}

// NewStream wraps src. onClose, if non-nil, runs once when the stream is
// closed and is typically used to release the socket behind src.
func NewStream(src ChunkSource, onClose func() error) *Stream {
	return &Stream{src: src, onClose: onClose}
}

// NewWithData returns an already exhausted stream over data.
func NewWithData(data []byte) *Stream {
	return &Stream{buf: bytes.Clone(data), done: true}
}

// pull fetches one chunk. Non-EOF errors are kept and end the stream.
func (s *Stream) pull() {
	if s.done {
		return
	}
	chunk, err := s.src()
	s.buf = append(s.buf, chunk...)
	if err != nil {
		s.done = true
		if err != io.EOF {
			s.err = err
		}
	}
}

// fill pulls until at least end bytes are buffered or the source ends.
func (s *Stream) fill(end int) {
	for len(s.buf) < end && !s.done {
		s.pull()
	}
}

func (s *Stream) drain() {
	for !s.done {
		s.pull()
	}
}

func (s *Stream) clamp(pos int) int {
	if pos < 0 {
		return 0
	}
	if pos > len(s.buf) {
		return len(s.buf)
	}
	return pos
}

// ReadN returns up to n bytes from the cursor and advances it by the number
// returned. A negative n reads everything that is left. The result is
// shorter than n only when the source ended or failed; in the latter case the
// source error is returned alongside the bytes that were available.
func (s *Stream) ReadN(n int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	end := len(s.buf)
	if n < 0 {
		s.drain()
		end = len(s.buf)
	} else {
		s.fill(s.pos + n)
		end = s.clamp(s.pos + n)
	}
	out := bytes.Clone(s.buf[s.pos:end])
	s.pos = end
	return out, s.err
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for s.pos == len(s.buf) && !s.done {
		s.pull()
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += n
	if n > 0 {
		return n, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	return 0, io.EOF
}

// ReadLine returns the next line including its trailing newline. The line is
// cut at limit bytes when limit is non-negative. At the end of the stream the
// remaining bytes are returned without a newline; an empty result means the
// stream is drained.
func (s *Stream) ReadLine(limit int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	scan := s.pos
	end := -1
	for {
		if i := bytes.IndexByte(s.buf[scan:], '\n'); i >= 0 {
			end = scan + i + 1
			break
		}
		if limit >= 0 && len(s.buf)-s.pos >= limit {
			break
		}
		if s.done {
			break
		}
		scan = len(s.buf)
		s.pull()
	}
	if end < 0 {
		end = len(s.buf)
	}
	if limit >= 0 && s.pos+limit < end {
		end = s.pos + limit
	}
	out := bytes.Clone(s.buf[s.pos:end])
	s.pos = end
	return out, s.err
}

// ReadLines reads lines until the stream is drained or, when sizeHint is
// positive, until at least sizeHint bytes were returned.
func (s *Stream) ReadLines(sizeHint int) ([][]byte, error) {
	var (
		lines [][]byte
		total int
	)
	for {
		line, err := s.ReadLine(-1)
		if len(line) > 0 {
			lines = append(lines, line)
			total += len(line)
		}
		if err != nil {
			return lines, err
		}
		if len(line) == 0 || (sizeHint > 0 && total >= sizeHint) {
			return lines, nil
		}
	}
}

// Seek implements io.Seeker. Seeking forward pulls from the source as needed;
// seeking relative to the end drains the source first. The resulting
// position is clamped to the buffered range, so Seek never fails on
// out-of-range offsets.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	var target int
	switch whence {
	case io.SeekStart:
		target = int(offset)
	case io.SeekCurrent:
		target = s.pos + int(offset)
	case io.SeekEnd:
		s.drain()
		target = len(s.buf) + int(offset)
		if offset > 0 {
			target = len(s.buf)
		}
	default:
		return int64(s.pos), errors.New("buffer: invalid whence")
	}
	s.fill(target)
	s.pos = s.clamp(target)
	return int64(s.pos), s.err
}

// Bytes drains the stream and returns the complete body regardless of the
// cursor position. The cursor is left unchanged.
func (s *Stream) Bytes() ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	s.drain()
	return bytes.Clone(s.buf), s.err
}

// Len returns the number of bytes buffered so far.
func (s *Stream) Len() int {
	return len(s.buf)
}

// Pos returns the cursor position.
func (s *Stream) Pos() int {
	return s.pos
}

// Exhausted reports whether the source has ended.
func (s *Stream) Exhausted() bool {
	return s.done
}

// Err returns the source error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the source. It is idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.done = true
		if s.onClose != nil {
			s.closeErr = s.onClose()
		}
	})
	return s.closeErr
}
