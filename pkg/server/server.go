/*
 * Copyright (C) 2023-2025, The mailmapd authors
 *
 * This file is part of mailmapd.
 *
 * mailmapd is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mailmapd is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go4.org/netipx"
)

var (
	ErrServerClosed = errors.New("server closed")

	// ErrMaxUsesReached is returned by ServeStream after the configured
	// number of connections was served. The caller recycles the process.
	ErrMaxUsesReached = errors.New("connection budget exhausted")

	errMissingHandler = errors.New("missing connection handler")
)

var nopLogger = zap.NewNop()

type ServerOpts struct {
	// Logger optionally specifies a logger for the server logging.
	// A nil Logger will disable the logging.
	Logger *zap.Logger

	// Handler serves accepted connections. Required.
	Handler Handler

	// Certificate files; when both are set, accepted TCP connections are
	// wrapped in TLS.
	Cert, Key string

	// IdleTimeout is the initial read deadline of an accepted connection.
	IdleTimeout time.Duration

	// AllowedClients restricts which peers may connect over IP
	// transports. Nil allows everyone; unix-socket peers are always
	// allowed.
	AllowedClients *netipx.IPSet

	// PreAccept is consulted before every accept. A non-nil error stops
	// the serve loop; the process supervisor is expected to restart a
	// fresh instance.
	PreAccept func() error

	// MaxUses limits how many connections this server accepts before it
	// reports ErrMaxUsesReached. Zero means unlimited.
	MaxUses int
}

func (opts *ServerOpts) init() {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.IdleTimeout < 0 {
		opts.IdleTimeout = 0
	}
}

type Server struct {
	opts ServerOpts

	m             sync.Mutex
	closed        bool
	closerTracker map[io.Closer]struct{}
}

func NewServer(opts ServerOpts) *Server {
	opts.init()
	return &Server{
		opts: opts,
	}
}

// Closed returns true if server was closed.
func (s *Server) Closed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closed
}

// trackCloser adds or removes c to the Server and return true if Server is not closed.
func (s *Server) trackCloser(c io.Closer, add bool) bool {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closerTracker == nil {
		s.closerTracker = make(map[io.Closer]struct{})
	}

	if add {
		if s.closed {
			return false
		}
		s.closerTracker[c] = struct{}{}
	} else {
		delete(s.closerTracker, c)
	}
	return true
}

// Close closes the Server and all its inner listeners and connections.
func (s *Server) Close() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}

	s.closed = true

	// Copy the closers out so their Close calls run without the lock; a
	// closer may call back into the server.
	closers := make([]io.Closer, 0, len(s.closerTracker))
	for c := range s.closerTracker {
		closers = append(closers, c)
	}
	s.closerTracker = nil
	s.m.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
}
