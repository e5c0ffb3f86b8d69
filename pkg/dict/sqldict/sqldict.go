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

// Package sqldict provides a sqlite-backed table, the default persistent
// backing store of the verify service. The reference name is the database
// file path.
package sqldict

import (
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"

	"github.com/openmx/mailmapd/pkg/dict"
)

func init() {
	dict.RegisterType("sqlite", Open)
}

type SQLDict struct {
	db *sql.DB
}

func Open(name string, flags int) (dict.Dict, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	// A single writer; sqlite locks the whole database anyway.
	db.SetMaxOpenConns(1)

	if flags&dict.OpenCreate != 0 {
		if _, err := db.Exec(
			`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`,
		); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		// Read-only use; a change of the file on disk must trigger the
		// handle-holder restart. Self-writes through this handle would
		// trip the tracker, so only register when opened read-only.
		if err := dict.WatchFile(name); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLDict{db: db}, nil
}

func (d *SQLDict) Get(key string) (string, bool, error) {
	var v string
	err := d.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (d *SQLDict) Put(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, value,
	)
	return err
}

func (d *SQLDict) Del(key string) error {
	_, err := d.db.Exec(`DELETE FROM kv WHERE k = ?`, key)
	return err
}

func (d *SQLDict) Flags() int {
	return dict.FlagDupReplace | dict.FlagSyncUpdate
}

func (d *SQLDict) Close() error {
	return d.db.Close()
}
