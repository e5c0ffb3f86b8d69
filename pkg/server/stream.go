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
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pires/go-proxyproto"
	"gitlab.com/go-extension/tls"
	"go.uber.org/zap"
	"go4.org/netipx"

	"github.com/openmx/mailmapd/pkg/utils"
)

// Handler serves one accepted client connection and returns when the
// client is done. Request framing and per-request deadlines are the
// handler's business.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn) error
}

const defaultIdleTimeout = time.Second * 100

// WrapProxyProtocol makes l expect the PROXY protocol header on every
// accepted connection.
func WrapProxyProtocol(l net.Listener) net.Listener {
	return &proxyproto.Listener{Listener: l}
}

// ServeStream accepts and serves connections from l until the server is
// closed, the pre-accept hook fails, or the connection budget runs out.
func (s *Server) ServeStream(l net.Listener) error {
	defer l.Close()

	handler := s.opts.Handler
	if handler == nil {
		return errMissingHandler
	}

	if len(s.opts.Cert) > 0 && len(s.opts.Key) > 0 {
		cert, err := tls.LoadX509KeyPair(s.opts.Cert, s.opts.Key)
		if err != nil {
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		l = tls.NewListener(l, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	if ok := s.trackCloser(l, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(l, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uses := 0
	for {
		if f := s.opts.PreAccept; f != nil {
			if err := f(); err != nil {
				return err
			}
		}

		c, err := l.Accept()
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			if err, ok := err.(net.Error); ok && err.Temporary() {
				continue
			}
			return fmt.Errorf("unexpected listener err: %w", err)
		}

		if !s.allowed(c) {
			s.opts.Logger.Debug("client rejected", zap.Stringer("from", c.RemoteAddr()))
			c.Close()
			continue
		}

		go s.handleConn(ctx, c)

		uses++
		if s.opts.MaxUses > 0 && uses >= s.opts.MaxUses {
			return ErrMaxUsesReached
		}
	}
}

func (s *Server) allowed(c net.Conn) bool {
	set := s.opts.AllowedClients
	if set == nil {
		return true
	}
	ip := utils.GetIPFromAddr(c.RemoteAddr())
	if ip == nil {
		// Local (unix-socket) peer.
		return true
	}
	addr, ok := netipx.FromStdIP(ip)
	if !ok {
		return false
	}
	return set.Contains(addr)
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()

	if !s.trackCloser(c, true) {
		return
	}
	defer s.trackCloser(c, false)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	idleTimeout := s.opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	c.SetReadDeadline(time.Now().Add(idleTimeout))

	if err := s.opts.Handler.ServeConn(connCtx, c); err != nil {
		s.opts.Logger.Debug("connection handler error",
			zap.Stringer("from", c.RemoteAddr()), zap.Error(err))
	}
}
