package response

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedClock() time.Time {
	return time.Date(2026, time.October, 9, 14, 3, 5, 0, time.Local)
}

func TestSend_WithBody(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(fixedClock)

	n, err := b.Send(&buf, StatusOK, "text/plain", []byte("17"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := "HTTP/1.1 200 OK\r\n" +
		"Date: Fri Oct  9 14:03:05 2026\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 2\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"17\r\n\r\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Wire output mismatch (-want +got):\n%s", diff)
	}
	if n != int64(len(want)) {
		t.Errorf("Expected %d bytes written, got %d", len(want), n)
	}
}

func TestSend_EmptyBody(t *testing.T) {
	var buf bytes.Buffer
	b := NewBuilder(fixedClock)

	if _, err := b.Send(&buf, StatusNotFound, "text/html", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := "HTTP/1.1 404 NOT FOUND\r\n" +
		"Date: Fri Oct  9 14:03:05 2026\r\n" +
		"Connection: close\r\n" +
		"Content-Length: 0\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Wire output mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_LargeBodyNotTruncated(t *testing.T) {
	var buf bytes.Buffer
	body := bytes.Repeat([]byte("a"), 1<<20)

	if _, err := NewBuilder(fixedClock).Send(&buf, StatusOK, "text/plain", body); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Content-Length: 1048576\r\n") {
		t.Error("Missing Content-Length for large body")
	}
	if !strings.HasSuffix(out, string(body)+"\r\n\r\n") {
		t.Error("Large body truncated or terminator missing")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestSend_WriteError(t *testing.T) {
	_, err := NewBuilder(fixedClock).Send(failingWriter{}, StatusOK, "text/plain", []byte("x"))
	if err == nil {
		t.Fatal("Expected error from failing writer")
	}
	if !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
}

func TestNewBuilder_DefaultClock(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewBuilder(nil).Send(&buf, StatusOK, "text/plain", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Date: ") {
		t.Error("Expected a Date header")
	}
}
