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

// Package dict is the lookup-table abstraction shared by the verify and
// proxymap services. Tables are addressed as "type:name" references and
// opened through a type registry that backends join at init time.
package dict

import (
	"fmt"
	"io"
	"sync"

	"github.com/openmx/mailmapd/pkg/utils"
)

// Capability flags reported by Dict.Flags.
const (
	// FlagFixed marks a table that cannot be written.
	FlagFixed = 1 << iota

	// FlagDupReplace marks a table where Put replaces an existing key.
	FlagDupReplace

	// FlagSyncUpdate marks a table whose writes reach the backing store
	// before Put returns.
	FlagSyncUpdate
)

// Open request flags. Clients of the proxymap service pass these through
// unchanged; the composite handle key includes them.
const (
	OpenCreate = 1 << (8 + iota)
)

// Dict is an open lookup table.
//
// Get distinguishes a miss (found == false, err == nil) from a backend
// failure (err != nil). Put must replace per key at-least-atomically.
type Dict interface {
	Get(key string) (value string, found bool, err error)
	Put(key, value string) error
	Del(key string) error

	// Flags reports the capability flags of the open table.
	Flags() int

	io.Closer
}

// OpenFunc opens a table of one registered type. name is the part of the
// reference after "type:", flags are the open request flags.
type OpenFunc func(name string, flags int) (Dict, error)

var (
	typeMu sync.RWMutex
	types  = make(map[string]OpenFunc)
)

// RegisterType registers a table type. Panics on duplicates, registration
// happens from init functions only.
func RegisterType(typ string, f OpenFunc) {
	typeMu.Lock()
	defer typeMu.Unlock()
	if _, dup := types[typ]; dup {
		panic(fmt.Sprintf("dict: duplicate type %q", typ))
	}
	types[typ] = f
}

// Open opens the table referenced by "type:name".
func Open(ref string, flags int) (Dict, error) {
	typ, name, err := utils.SplitTypeName(ref)
	if err != nil {
		return nil, err
	}
	typeMu.RLock()
	f, ok := types[typ]
	typeMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported table type %q in %q", typ, ref)
	}
	d, err := f(name, flags)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return d, nil
}
