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
	"fmt"
	"strconv"
	"strings"
)

// Status is the verification state of one recipient address.
type Status int

const (
	StatusOK     Status = 0 // deliverable
	StatusDefer  Status = 1 // undeliverable, temporary problem
	StatusBounce Status = 2 // undeliverable, permanent problem
	StatusTodo   Status = 3 // being determined
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "deliverable"
	case StatusDefer, StatusBounce:
		return "undeliverable"
	case StatusTodo:
		return "in progress"
	default:
		return "invalid"
	}
}

// validUpdate reports whether s may appear in an update request. Todo is a
// query-time default, never a probe result.
func (s Status) validUpdate() bool {
	switch s {
	case StatusOK, StatusDefer, StatusBounce:
		return true
	default:
		return false
	}
}

// Entry is one address record. The stored form is
// "status:probed:updated:text".
//
// probed: if non-zero, the time of the last outstanding address probe.
// updated: if non-zero, the time of the last processed probe result. If
// zero we have no information yet and the address is being probed.
type Entry struct {
	Status  Status
	Probed  int64
	Updated int64
	Text    string
}

func makeEntry(status Status, probed, updated int64, text string) string {
	return fmt.Sprintf("%d:%d:%d:%s", status, probed, updated, text)
}

// parseEntry parses a stored record. The text field may itself contain
// colons; only the first three separate fields.
func parseEntry(raw string) (Entry, error) {
	statusText, rest, ok1 := strings.Cut(raw, ":")
	probedText, rest, ok2 := strings.Cut(rest, ":")
	updatedText, text, ok3 := strings.Cut(rest, ":")
	if !ok1 || !ok2 || !ok3 {
		return Entry{}, fmt.Errorf("bad address verify table entry: %.100s", raw)
	}

	status, err1 := strconv.Atoi(statusText)
	probed, err2 := strconv.ParseInt(probedText, 10, 64)
	updated, err3 := strconv.ParseInt(updatedText, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Entry{}, fmt.Errorf("bad address verify table entry: %.100s", raw)
	}

	switch Status(status) {
	case StatusOK, StatusDefer, StatusBounce, StatusTodo:
	default:
		return Entry{}, fmt.Errorf("bad address verify table entry: %.100s", raw)
	}
	if probed == 0 && updated == 0 {
		return Entry{}, fmt.Errorf("bad address verify table entry: %.100s", raw)
	}

	return Entry{
		Status:  Status(status),
		Probed:  probed,
		Updated: updated,
		Text:    text,
	}, nil
}

// rawStatus extracts the status from a stored record without parsing the
// whole entry, used by the protective-update check. Like the stored form
// itself it reads a leading decimal; garbage yields StatusOK the same way
// a C atoi would, parseEntry is the authority on validity.
func rawStatus(raw string) Status {
	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(raw[:i])
	if err != nil {
		return StatusOK
	}
	return Status(n)
}
