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

package utils

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/exp/constraints"
)

// SetDefaultNum sets *p = d if *p == 0.
func SetDefaultNum[T constraints.Integer | constraints.Float](p *T, d T) {
	if *p == 0 {
		*p = d
	}
}

// SetDefaultString sets *p = d if *p is empty.
func SetDefaultString(p *string, d string) {
	if len(*p) == 0 {
		*p = d
	}
}

// GetIPFromAddr returns the net.IP of a net.Addr, or nil if the addr
// does not carry one (e.g. a unix socket).
func GetIPFromAddr(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// SplitTypeName splits a "type:name" table reference at the first colon.
func SplitTypeName(ref string) (typ, name string, err error) {
	i := strings.IndexByte(ref, ':')
	if i < 0 {
		return "", "", fmt.Errorf("invalid table reference %q: missing type separator", ref)
	}
	return ref[:i], ref[i+1:], nil
}
