package downloader

import (
	"errors"
	"fmt"
)

var (
	errStalled    = errors.New("no data received within stall timeout")
	errTimedOut   = errors.New("fetch timeout exceeded")
	errShortWrite = errors.New("body length does not match content length")
)

// ConnectionError means the request could not be sent or no response arrived.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StatusError means the server answered with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status from %s: %s", e.URL, e.Status)
}

// StreamError means the body transfer broke off after the response started.
type StreamError struct {
	Path     string // Destination the body was being written for
	Written  int64  // Bytes written before the failure
	Expected int64  // Declared Content-Length, -1 if unknown
	Err      error
}

func (e *StreamError) Error() string {
	if e.Expected >= 0 {
		return fmt.Sprintf("stream to %s failed after %d of %d bytes: %v", e.Path, e.Written, e.Expected, e.Err)
	}
	return fmt.Sprintf("stream to %s failed after %d bytes: %v", e.Path, e.Written, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// FilesystemError means a local file operation failed.
type FilesystemError struct {
	Op   string // e.g. "create", "write", "rename"
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}
