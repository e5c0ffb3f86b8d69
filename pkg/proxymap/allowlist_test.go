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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowlistParsing(t *testing.T) {
	r := require.New(t)

	a := NewAllowlist("proxy:hash:/etc/a  proxy:proxy:cdb:/etc/b\n\tplain:/etc/c proxy:nocolon")
	r.Equal(2, a.Len())
	r.True(a.Contains("hash:/etc/a"))
	r.True(a.Contains("cdb:/etc/b"))
	// Tokens without the proxy: prefix are someone else's business.
	r.False(a.Contains("plain:/etc/c"))
	// A canonical form without an inner separator never enters the set.
	r.False(a.Contains("nocolon"))
}

func TestAllowlistStrippingClosure(t *testing.T) {
	r := require.New(t)

	a := NewAllowlist("proxy:hash:/etc/a")
	// Any number of leading proxy: prefixes resolves to the same
	// canonical form.
	for n := 0; n < 5; n++ {
		ref := strings.Repeat("proxy:", n) + "hash:/etc/a"
		r.True(a.Contains(stripProxyPrefix(ref)), ref)
		bad := strings.Repeat("proxy:", n) + "hash:/etc/other"
		r.False(a.Contains(stripProxyPrefix(bad)), bad)
	}
}

func TestAllowlistDuplicates(t *testing.T) {
	a := NewAllowlist("proxy:hash:/etc/a proxy:hash:/etc/a proxy:proxy:hash:/etc/a")
	require.Equal(t, 1, a.Len())
}
