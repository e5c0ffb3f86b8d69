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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	entries := []Entry{
		{Status: StatusOK, Probed: 0, Updated: 1700000000, Text: "250 ok"},
		{Status: StatusDefer, Probed: 1700000100, Updated: 1700000000, Text: "451 try later"},
		{Status: StatusBounce, Probed: 0, Updated: 42, Text: "550 no such user"},
		{Status: StatusTodo, Probed: 1700000100, Updated: 0, Text: "Address verification in progress"},
		// Text containing colons must survive intact.
		{Status: StatusOK, Probed: 0, Updated: 7, Text: "250 2.1.5 <u@x>: ok: really"},
		{Status: StatusOK, Probed: 0, Updated: 7, Text: ""},
	}
	for _, e := range entries {
		raw := makeEntry(e.Status, e.Probed, e.Updated, e.Text)
		got, err := parseEntry(raw)
		require.NoError(t, err, raw)
		require.Equal(t, e, got, raw)
	}
}

func TestParseEntryRejects(t *testing.T) {
	bad := []string{
		"",
		"0",
		"0:1",
		"0:1:2",      // no text separator
		"9:1:2:text", // unknown status
		"x:1:2:text", // non-numeric status
		"0:x:2:text", // non-numeric probed
		"0:1:x:text", // non-numeric updated
		"0:0:0:text", // neither probed nor updated
	}
	for _, raw := range bad {
		_, err := parseEntry(raw)
		require.Error(t, err, "%q should not parse", raw)
	}

	// The smallest acceptable forms.
	_, err := parseEntry("0:0:1:")
	require.NoError(t, err)
	_, err = parseEntry("3:1:0:")
	require.NoError(t, err)
}

func TestRawStatus(t *testing.T) {
	require.Equal(t, StatusOK, rawStatus("0:0:100:250 ok"))
	require.Equal(t, StatusDefer, rawStatus("1:0:100:451"))
	require.Equal(t, StatusBounce, rawStatus("2:0:100:550"))
	require.Equal(t, StatusTodo, rawStatus("3:100:0:..."))
}
