package response

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

const (
	StatusOK              = "HTTP/1.1 200 OK"
	StatusNotFound        = "HTTP/1.1 404 NOT FOUND"
	StatusTooManyRequests = "HTTP/1.1 429 TOO MANY REQUESTS"
)

// DateLayout matches the C locale "%c" rendering.
const DateLayout = time.ANSIC

const bodyTerminator = "\r\n\r\n"

type Builder struct {
	now func() time.Time
}

// NewBuilder returns a Builder stamping responses with now(). A nil now uses
// the local wall clock.
func NewBuilder(now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now}
}

// Send writes the status line, headers and body to w. Headers go through a
// buffer and the body is streamed behind them, so there is no upper bound on
// body size. An empty body also drops the trailing terminator.
func (b *Builder) Send(w io.Writer, status, contentType string, body []byte) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	fmt.Fprintf(bw, "%s\r\n", status)
	fmt.Fprintf(bw, "Date: %s\r\n", b.now().Local().Format(DateLayout))
	bw.WriteString("Connection: close\r\n")
	fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(bw, "Content-Type: %s\r\n", contentType)
	bw.WriteString("\r\n")

	if len(body) > 0 {
		bw.Write(body)
		bw.WriteString(bodyTerminator)
	}

	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("send %q: %w", status, err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
