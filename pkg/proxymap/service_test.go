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

package proxymap

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmx/mailmapd/pkg/dict"
	_ "github.com/openmx/mailmapd/pkg/dict/texthash"
	"github.com/openmx/mailmapd/pkg/wireproto"
)

func writeTable(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

func dialService(t *testing.T, s *Service) *wireproto.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	go s.ServeConn(context.Background(), server)
	return wireproto.NewConn(client)
}

func doLookup(t *testing.T, c *wireproto.Conn, table string, flags int, key string) (int, string) {
	t.Helper()
	r := require.New(t)
	r.NoError(c.Print(
		wireproto.PrintString(wireproto.AttrRequest, ReqLookup),
		wireproto.PrintString(wireproto.AttrTable, table),
		wireproto.PrintNumber(wireproto.AttrFlags, flags),
		wireproto.PrintString(wireproto.AttrKey, key),
	))
	r.NoError(c.Flush())

	var stat int
	var value string
	n, err := c.Scan(wireproto.ScanStrict,
		wireproto.Number(wireproto.AttrStatus, &stat),
		wireproto.String(wireproto.AttrValue, &value),
	)
	r.NoError(err)
	r.Equal(2, n)
	return stat, value
}

func doOpen(t *testing.T, c *wireproto.Conn, table string, flags int) (int, int) {
	t.Helper()
	r := require.New(t)
	r.NoError(c.Print(
		wireproto.PrintString(wireproto.AttrRequest, ReqOpen),
		wireproto.PrintString(wireproto.AttrTable, table),
		wireproto.PrintNumber(wireproto.AttrFlags, flags),
	))
	r.NoError(c.Flush())

	var stat, replyFlags int
	n, err := c.Scan(wireproto.ScanStrict,
		wireproto.Number(wireproto.AttrStatus, &stat),
		wireproto.Number(wireproto.AttrFlags, &replyFlags),
	)
	r.NoError(err)
	r.Equal(2, n)
	return stat, replyFlags
}

func TestLookupAndHandleReuse(t *testing.T) {
	r := require.New(t)

	path := writeTable(t, "k v\n")
	s := NewService(ServiceOpts{ProxyReadMaps: "proxy:texthash:" + path})
	c := dialService(t, s)

	stat, value := doLookup(t, c, "proxy:texthash:"+path, 0, "k")
	r.Equal(StatOK, stat)
	r.Equal("v", value)
	r.Equal(1, s.HandleCount())

	// Same (type:name, flags): the handle is shared, not reopened.
	stat, value = doLookup(t, c, "texthash:"+path, 0, "k")
	r.Equal(StatOK, stat)
	r.Equal("v", value)
	r.Equal(1, s.HandleCount())

	stat, _ = doLookup(t, c, "proxy:texthash:"+path, 0, "missing")
	r.Equal(StatNoKey, stat)
}

func TestLookupDeny(t *testing.T) {
	r := require.New(t)

	s := NewService(ServiceOpts{ProxyReadMaps: "proxy:hash:/etc/a"})
	c := dialService(t, s)

	stat, value := doLookup(t, c, "proxy:proxy:cdb:/etc/b", 0, "k")
	r.Equal(StatDeny, stat)
	r.Equal("", value)
	r.Zero(s.HandleCount())
}

func TestLookupBadTableForm(t *testing.T) {
	r := require.New(t)

	s := NewService(ServiceOpts{ProxyReadMaps: "proxy:hash:/etc/a"})
	c := dialService(t, s)

	// All proxy: prefixes stripped, nothing but a bare word remains.
	stat, _ := doLookup(t, c, "proxy:proxy:nocolon", 0, "k")
	r.Equal(StatBad, stat)
}

func TestOpenReportsFlags(t *testing.T) {
	r := require.New(t)

	path := writeTable(t, "k v\n")
	s := NewService(ServiceOpts{ProxyReadMaps: "proxy:texthash:" + path})
	c := dialService(t, s)

	stat, flags := doOpen(t, c, "proxy:texthash:"+path, 0)
	r.Equal(StatOK, stat)
	r.NotZero(flags & dict.FlagFixed)
	r.Equal(1, s.HandleCount())

	// Two opens with identical (type:name, flags) report identical flags
	// and share one handle.
	stat2, flags2 := doOpen(t, c, "texthash:"+path, 0)
	r.Equal(stat, stat2)
	r.Equal(flags, flags2)
	r.Equal(1, s.HandleCount())

	// A different flags value is a different handle.
	stat3, _ := doOpen(t, c, "texthash:"+path, 64)
	r.Equal(StatOK, stat3)
	r.Equal(2, s.HandleCount())
}

func TestUnknownRequest(t *testing.T) {
	r := require.New(t)

	s := NewService(ServiceOpts{ProxyReadMaps: ""})
	c := dialService(t, s)

	r.NoError(c.Print(wireproto.PrintString(wireproto.AttrRequest, "bogus")))
	r.NoError(c.Flush())

	var stat int
	n, err := c.Scan(wireproto.ScanStrict, wireproto.Number(wireproto.AttrStatus, &stat))
	r.NoError(err)
	r.Equal(1, n)
	r.Equal(StatBad, stat)
}

func TestRepeatedRequestsOneConnection(t *testing.T) {
	r := require.New(t)

	path := writeTable(t, "a 1\nb 2\n")
	s := NewService(ServiceOpts{ProxyReadMaps: "proxy:texthash:" + path})
	c := dialService(t, s)

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		stat, value := doLookup(t, c, "texthash:"+path, 0, key)
		r.Equal(StatOK, stat)
		r.Equal(want, value)
	}
	r.Equal(1, s.HandleCount())
}
