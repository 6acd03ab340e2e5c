package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-pingback/pkg/buffer"
	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/errors"
)

// Response is a parsed status line and header block. The body has not been
// read yet; Body pulls it from the connection chunk by chunk.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     Header
	Body       buffer.ChunkSource
}

// ReadResponse parses the status line and headers from r. Interim 100
// Continue responses are skipped. method is the request method and decides
// whether a body may follow.
func ReadResponse(r *bufio.Reader, method string) (*Response, error) {
	resp := &Response{}
	for {
		line, err := readLine(r)
		if err != nil {
			if err == io.EOF {
				return nil, errors.NewBadStatusLine("", err)
			}
			return nil, errors.Wrap(err)
		}
		if err := parseStatusLine(line, resp); err != nil {
			return nil, err
		}
		header, err := readHeaders(r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != 100 {
			resp.Header = header
			break
		}
	}

	body, err := bodySource(r, resp, method)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		frag, err := r.ReadSlice('\n')
		b.Write(frag)
		if b.Len() > constants.MaxHeaderBytes {
			return "", errors.NewProtocolError("header line too long", nil)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && b.Len() > 0 {
				return "", errors.NewProtocolError("truncated header line", io.ErrUnexpectedEOF)
			}
			return "", err
		}
		break
	}
	return strings.TrimRight(b.String(), "\r\n"), nil
}

func parseStatusLine(line string, resp *Response) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return errors.NewBadStatusLine(line, nil)
	}
	code := parts[1]
	if len(code) != 3 {
		return errors.NewBadStatusLine(line, nil)
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return errors.NewBadStatusLine(line, err)
	}
	resp.Proto = parts[0]
	resp.StatusCode = status
	if len(parts) == 3 {
		resp.Reason = strings.TrimSpace(parts[2])
	}
	return nil
}

func readHeaders(r *bufio.Reader) (Header, error) {
	var (
		header Header
		total  int
	)
	for {
		line, err := readLine(r)
		if err != nil {
			return Header{}, errors.NewProtocolError("reading headers", err)
		}
		total += len(line)
		if total > constants.MaxHeaderBytes {
			return Header{}, errors.NewProtocolError("headers exceed maximum size", nil)
		}
		if line == "" {
			return header, nil
		}

		// obsolete line folding (RFC 7230 section 3.2.4)
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(header.fields); n > 0 {
				header.fields[n-1].Value += " " + strings.TrimSpace(line)
			}
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
}

func noBody() ([]byte, error) {
	return nil, io.EOF
}

func bodySource(r *bufio.Reader, resp *Response, method string) (buffer.ChunkSource, error) {
	code := resp.StatusCode
	if strings.EqualFold(method, "HEAD") || code < 200 || code == 204 || code == 304 {
		return noBody, nil
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Transfer-Encoding")), "chunked") {
		return chunkedSource(r, resp), nil
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil {
			return nil, errors.NewProtocolError("invalid content-length", err)
		}
		if length < 0 {
			return nil, errors.NewProtocolError("negative content-length not allowed", nil)
		}
		if length > constants.MaxContentLength {
			return nil, errors.NewProtocolError("content-length too large", nil)
		}
		return fixedSource(r, length), nil
	}

	return untilCloseSource(r), nil
}

func readErr(op string, err error) error {
	if errors.IsTimeoutError(err) {
		return errors.Wrap(err)
	}
	return errors.NewIOError(op, err)
}

func fixedSource(r *bufio.Reader, remaining int64) buffer.ChunkSource {
	return func() ([]byte, error) {
		if remaining <= 0 {
			return nil, io.EOF
		}
		size := int64(constants.ReadChunkSize)
		if size > remaining {
			size = remaining
		}
		p := make([]byte, size)
		n, err := r.Read(p)
		remaining -= int64(n)
		if err == io.EOF && remaining > 0 {
			return p[:n], errors.NewIOError("reading fixed body", io.ErrUnexpectedEOF)
		}
		if err != nil && err != io.EOF {
			return p[:n], readErr("reading fixed body", err)
		}
		if remaining <= 0 {
			return p[:n], io.EOF
		}
		return p[:n], nil
	}
}

func untilCloseSource(r *bufio.Reader) buffer.ChunkSource {
	return func() ([]byte, error) {
		p := make([]byte, constants.ReadChunkSize)
		n, err := r.Read(p)
		if err != nil && err != io.EOF {
			return p[:n], readErr("reading until close", err)
		}
		return p[:n], err
	}
}

// chunkedSource yields at most ReadChunkSize bytes of a transfer chunk per
// pull. Trailer fields are appended to resp.Header once the last chunk has
// been read.
func chunkedSource(r *bufio.Reader, resp *Response) buffer.ChunkSource {
	var (
		left     int64
		finished bool
	)
	return func() ([]byte, error) {
		if finished {
			return nil, io.EOF
		}
		if left == 0 {
			line, err := readLine(r)
			if err != nil {
				return nil, protocolOrIO("reading chunk size", err)
			}
			sizeField, _, _ := strings.Cut(line, ";")
			size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
			if err != nil || size < 0 || size > constants.MaxContentLength {
				return nil, errors.NewProtocolError("invalid chunk size", err)
			}
			if size == 0 {
				finished = true
				trailer, err := readHeaders(r)
				if err != nil {
					return nil, err
				}
				for _, f := range trailer.fields {
					resp.Header.Add(f.Name, f.Value)
				}
				return nil, io.EOF
			}
			left = size
		}

		n := left
		if n > constants.ReadChunkSize {
			n = constants.ReadChunkSize
		}
		p := make([]byte, n)
		if _, err := io.ReadFull(r, p); err != nil {
			return nil, protocolOrIO("reading chunk body", err)
		}
		left -= n
		if left == 0 {
			crlf, err := readLine(r)
			if err != nil {
				return p, protocolOrIO("reading chunk CRLF", err)
			}
			if crlf != "" {
				return p, errors.NewProtocolError("missing CRLF after chunk", nil)
			}
		}
		return p, nil
	}
}

func protocolOrIO(op string, err error) error {
	if errors.IsNetError(err) {
		return err
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return readErr(op, err)
}
