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
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go4.org/netipx"
)

type echoHandler struct{}

func (echoHandler) ServeConn(ctx context.Context, conn net.Conn) error {
	_, err := io.Copy(conn, conn)
	return err
}

func TestServeAndClose(t *testing.T) {
	r := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)

	s := NewServer(ServerOpts{Handler: echoHandler{}})
	done := make(chan error, 1)
	go func() { done <- s.ServeStream(l) }()

	c, err := net.Dial("tcp", l.Addr().String())
	r.NoError(err)
	_, err = c.Write([]byte("ping\n"))
	r.NoError(err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(c, buf)
	r.NoError(err)
	r.Equal("ping\n", string(buf))
	c.Close()

	s.Close()
	r.ErrorIs(<-done, ErrServerClosed)
}

func TestClientACL(t *testing.T) {
	r := require.New(t)

	var b netipx.IPSetBuilder
	// Loopback is not in the allowed set.
	b.AddPrefix(netip.MustParsePrefix("192.0.2.0/24"))
	set, err := b.IPSet()
	r.NoError(err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)

	s := NewServer(ServerOpts{Handler: echoHandler{}, AllowedClients: set})
	defer s.Close()
	go s.ServeStream(l)

	c, err := net.Dial("tcp", l.Addr().String())
	r.NoError(err)
	defer c.Close()

	// The server closes the rejected connection without serving it.
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = c.Read(buf)
	r.ErrorIs(err, io.EOF)
}

func TestMaxUses(t *testing.T) {
	r := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)

	s := NewServer(ServerOpts{Handler: echoHandler{}, MaxUses: 2})
	defer s.Close()
	done := make(chan error, 1)
	go func() { done <- s.ServeStream(l) }()

	for i := 0; i < 2; i++ {
		c, err := net.Dial("tcp", l.Addr().String())
		r.NoError(err)
		c.Close()
	}
	r.ErrorIs(<-done, ErrMaxUsesReached)
}

func TestPreAcceptStopsServer(t *testing.T) {
	r := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)

	wantErr := errors.New("tables changed")
	s := NewServer(ServerOpts{Handler: echoHandler{}, PreAccept: func() error { return wantErr }})
	defer s.Close()

	r.ErrorIs(s.ServeStream(l), wantErr)
}
