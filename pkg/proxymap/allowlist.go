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
)

const proxyPrefix = "proxy:"

// stripProxyPrefix removes any number of leading "proxy:" prefixes,
// yielding the canonical "type:name" form.
func stripProxyPrefix(ref string) string {
	for strings.HasPrefix(ref, proxyPrefix) {
		ref = ref[len(proxyPrefix):]
	}
	return ref
}

// Allowlist is the pre-approved set of proxied table references. It is
// built once at post-jail init and immutable afterwards.
type Allowlist struct {
	m map[string]struct{}
}

// NewAllowlist parses the whitespace-separated proxy_read_maps value.
// Only tokens that start with "proxy:" name tables meant for this service;
// others are skipped. Tokens whose canonical form has no inner type
// separator are discarded.
func NewAllowlist(cfg string) *Allowlist {
	a := &Allowlist{m: make(map[string]struct{})}
	for _, token := range strings.Fields(cfg) {
		if !strings.HasPrefix(token, proxyPrefix) {
			continue
		}
		typeName := stripProxyPrefix(token)
		if !strings.Contains(typeName, ":") {
			continue
		}
		a.m[typeName] = struct{}{}
	}
	return a
}

// Contains reports whether the canonical "type:name" is approved.
func (a *Allowlist) Contains(typeName string) bool {
	_, ok := a.m[typeName]
	return ok
}

func (a *Allowlist) Len() int {
	return len(a.m)
}
