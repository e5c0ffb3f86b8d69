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

package memdict

import (
	"fmt"
	"testing"

	"github.com/openmx/mailmapd/pkg/dict"
)

func Test_memDict(t *testing.T) {
	d := New()
	for i := 0; i < 128; i++ {
		k := fmt.Sprintf("key-%d", i)
		if err := d.Put(k, fmt.Sprintf("v-%d", i)); err != nil {
			t.Fatal(err)
		}
		v, ok, err := d.Get(k)
		if err != nil || !ok || v != fmt.Sprintf("v-%d", i) {
			t.Fatal("table kv mismatched")
		}
	}

	if err := d.Put("key-0", "replaced"); err != nil {
		t.Fatal(err)
	}
	v, ok, _ := d.Get("key-0")
	if !ok || v != "replaced" {
		t.Fatal("put did not replace")
	}

	if err := d.Del("key-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := d.Get("key-1"); ok {
		t.Fatal("del did not delete")
	}

	if d.Flags()&dict.FlagDupReplace == 0 {
		t.Fatal("memory table must report dup-replace")
	}
}

func Test_memDict_openByRef(t *testing.T) {
	d, err := dict.Open("memory:verify", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Put("u@x", "0:0:100:ok"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := d.Get("u@x")
	if err != nil || !ok || v != "0:0:100:ok" {
		t.Fatal("open by reference did not produce a working table")
	}
}
