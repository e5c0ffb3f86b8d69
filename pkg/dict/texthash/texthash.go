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

// Package texthash provides a read-only table loaded from a flat text
// file. Each line is "key value...", '#' starts a comment, blank lines are
// skipped. The whole file is loaded at open time; the file is registered
// with the change tracker so the proxymap service restarts when it is
// edited.
package texthash

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openmx/mailmapd/pkg/dict"
)

func init() {
	dict.RegisterType("texthash", Open)
}

var errReadOnly = errors.New("texthash table is read-only")

type TextHash struct {
	m map[string]string
}

func Open(name string, flags int) (dict.Dict, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := &TextHash{m: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			key, value, ok = strings.Cut(line, "\t")
		}
		if !ok {
			return nil, fmt.Errorf("%s:%d: missing value", name, lineNo)
		}
		d.m[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := dict.WatchFile(name); err != nil {
		return nil, fmt.Errorf("watch %s: %w", name, err)
	}
	return d, nil
}

func (d *TextHash) Get(key string) (string, bool, error) {
	v, ok := d.m[key]
	return v, ok, nil
}

func (d *TextHash) Put(key, value string) error {
	return errReadOnly
}

func (d *TextHash) Del(key string) error {
	return errReadOnly
}

func (d *TextHash) Flags() int {
	return dict.FlagFixed
}

func (d *TextHash) Close() error {
	return nil
}
