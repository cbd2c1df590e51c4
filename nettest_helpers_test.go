// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/netstub (FuncConn pattern) and
// github.com/bassosimone/slogstub (FuncHandler pattern), both used by the
// nop package's tests. Neither is a fetchable dependency, so their idioms
// are reimplemented locally for this package's tests using only
// log/slog from the standard library.

package netcore

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// funcConn is a [net.Conn] fake whose behavior is entirely driven by
// function fields, letting each test override only what it exercises.
type funcConn struct {
	ReadFunc             func([]byte) (int, error)
	WriteFunc            func([]byte) (int, error)
	CloseFunc            func() error
	LocalAddrFunc        func() net.Addr
	RemoteAddrFunc       func() net.Addr
	SetDeadlineFunc      func(time.Time) error
	SetReadDeadlineFunc  func(time.Time) error
	SetWriteDeadlineFunc func(time.Time) error
}

var _ net.Conn = &funcConn{}

func (c *funcConn) Read(b []byte) (int, error) {
	if c.ReadFunc != nil {
		return c.ReadFunc(b)
	}
	return 0, nil
}

func (c *funcConn) Write(b []byte) (int, error) {
	if c.WriteFunc != nil {
		return c.WriteFunc(b)
	}
	return len(b), nil
}

func (c *funcConn) Close() error {
	if c.CloseFunc != nil {
		return c.CloseFunc()
	}
	return nil
}

func (c *funcConn) LocalAddr() net.Addr {
	if c.LocalAddrFunc != nil {
		return c.LocalAddrFunc()
	}
	return nil
}

func (c *funcConn) RemoteAddr() net.Addr {
	if c.RemoteAddrFunc != nil {
		return c.RemoteAddrFunc()
	}
	return nil
}

func (c *funcConn) SetDeadline(t time.Time) error {
	if c.SetDeadlineFunc != nil {
		return c.SetDeadlineFunc(t)
	}
	return nil
}

func (c *funcConn) SetReadDeadline(t time.Time) error {
	if c.SetReadDeadlineFunc != nil {
		return c.SetReadDeadlineFunc(t)
	}
	return nil
}

func (c *funcConn) SetWriteDeadline(t time.Time) error {
	if c.SetWriteDeadlineFunc != nil {
		return c.SetWriteDeadlineFunc(t)
	}
	return nil
}

// newMinimalConn returns a [*funcConn] with just enough set to satisfy
// code that calls LocalAddr and RemoteAddr during construction.
func newMinimalConn() *funcConn {
	return &funcConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// recordingHandler is a [slog.Handler] that appends every logged [slog.Record]
// to a shared slice, letting tests assert on emitted log events by name.
type recordingHandler struct {
	records *[]slog.Record
}

var _ slog.Handler = recordingHandler{}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h recordingHandler) WithGroup(string) slog.Handler { return h }

// newCapturingLogger returns an [SLogger] backed by a [*slog.Logger] whose
// handler appends every record to the returned slice, for asserting on
// the names and attributes of emitted log events.
func newCapturingLogger() (SLogger, *[]slog.Record) {
	records := &[]slog.Record{}
	logger := slog.New(recordingHandler{records: records})
	return logger, records
}
