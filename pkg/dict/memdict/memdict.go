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

// Package memdict provides the volatile in-process table type. Entries
// never expire and are never evicted; state is lost when the process
// exits, which is exactly the contract of an empty address_verify_map.
package memdict

import (
	gocache "github.com/patrickmn/go-cache"

	"github.com/openmx/mailmapd/pkg/dict"
)

func init() {
	dict.RegisterType("memory", func(name string, flags int) (dict.Dict, error) {
		return New(), nil
	})
}

type MemDict struct {
	c *gocache.Cache
}

func New() *MemDict {
	return &MemDict{
		c: gocache.New(gocache.NoExpiration, 0),
	}
}

func (d *MemDict) Get(key string) (string, bool, error) {
	v, ok := d.c.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (d *MemDict) Put(key, value string) error {
	d.c.Set(key, value, gocache.NoExpiration)
	return nil
}

func (d *MemDict) Del(key string) error {
	d.c.Delete(key)
	return nil
}

func (d *MemDict) Flags() int {
	return dict.FlagDupReplace | dict.FlagSyncUpdate
}

func (d *MemDict) Close() error {
	return nil
}

func (d *MemDict) Len() int {
	return d.c.ItemCount()
}
