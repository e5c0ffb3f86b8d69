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

package verify

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmx/mailmapd/pkg/wireproto"
)

func serveOne(t *testing.T, s *Service) *wireproto.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	go s.ServeConn(context.Background(), server)
	return wireproto.NewConn(client)
}

func TestServiceQuery(t *testing.T) {
	r := require.New(t)
	cache, _, clock, sub := newTestCache(t, true)
	s := NewService(ServiceOpts{Cache: cache})
	clock.at(100)

	c := serveOne(t, s)
	r.NoError(c.Print(
		wireproto.PrintString(wireproto.AttrRequest, ReqQuery),
		wireproto.PrintString(wireproto.AttrAddress, "u@x"),
	))
	r.NoError(c.Flush())

	var stat, addrStatus int
	var why string
	n, err := c.Scan(wireproto.ScanStrict,
		wireproto.Number(wireproto.AttrStatus, &stat),
		wireproto.Number(wireproto.AttrAddressStatus, &addrStatus),
		wireproto.String(wireproto.AttrReason, &why),
	)
	r.NoError(err)
	r.Equal(3, n)
	r.Equal(StatOK, stat)
	r.Equal(int(StatusTodo), addrStatus)
	r.Equal("Address verification in progress", why)
	r.Equal([]string{"u@x"}, sub.submitted)
}

func TestServiceUpdate(t *testing.T) {
	r := require.New(t)
	cache, table, clock, _ := newTestCache(t, true)
	s := NewService(ServiceOpts{Cache: cache})
	clock.at(110)

	c := serveOne(t, s)
	r.NoError(c.Print(
		wireproto.PrintString(wireproto.AttrRequest, ReqUpdate),
		wireproto.PrintString(wireproto.AttrAddress, "u@x"),
		wireproto.PrintNumber(wireproto.AttrAddressStatus, int(StatusOK)),
		wireproto.PrintString(wireproto.AttrReason, "250 ok"),
	))
	r.NoError(c.Flush())

	var stat int
	n, err := c.Scan(wireproto.ScanStrict, wireproto.Number(wireproto.AttrStatus, &stat))
	r.NoError(err)
	r.Equal(1, n)
	r.Equal(StatOK, stat)

	_, ok, _ := table.Get("u@x")
	r.True(ok)
}

func TestServiceUpdateBadStatus(t *testing.T) {
	r := require.New(t)
	cache, _, _, _ := newTestCache(t, true)
	s := NewService(ServiceOpts{Cache: cache})

	c := serveOne(t, s)
	r.NoError(c.Print(
		wireproto.PrintString(wireproto.AttrRequest, ReqUpdate),
		wireproto.PrintString(wireproto.AttrAddress, "u@x"),
		wireproto.PrintNumber(wireproto.AttrAddressStatus, int(StatusTodo)),
		wireproto.PrintString(wireproto.AttrReason, "nope"),
	))
	r.NoError(c.Flush())

	var stat int
	n, err := c.Scan(wireproto.ScanStrict, wireproto.Number(wireproto.AttrStatus, &stat))
	r.NoError(err)
	r.Equal(1, n)
	r.Equal(StatBad, stat)
}

func TestServiceUnknownRequest(t *testing.T) {
	r := require.New(t)
	cache, _, _, _ := newTestCache(t, true)
	s := NewService(ServiceOpts{Cache: cache})

	c := serveOne(t, s)
	r.NoError(c.Print(wireproto.PrintString(wireproto.AttrRequest, "bogus")))
	r.NoError(c.Flush())

	var stat int
	n, err := c.Scan(wireproto.ScanStrict, wireproto.Number(wireproto.AttrStatus, &stat))
	r.NoError(err)
	r.Equal(1, n)
	r.Equal(StatBad, stat)
}
