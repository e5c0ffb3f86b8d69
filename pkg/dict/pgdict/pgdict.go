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

// Package pgdict provides a postgres-backed table. The reference name is a
// connection DSN, e.g. "pgsql:host=db user=mail dbname=maps".
package pgdict

import (
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/openmx/mailmapd/pkg/dict"
)

func init() {
	dict.RegisterType("pgsql", Open)
}

type kvRecord struct {
	K string `gorm:"primaryKey;column:k"`
	V string `gorm:"column:v"`
}

func (kvRecord) TableName() string {
	return "mailmap_kv"
}

type PGDict struct {
	db *gorm.DB
}

func Open(name string, flags int) (dict.Dict, error) {
	db, err := gorm.Open(postgres.Open(name), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, err
	}
	if flags&dict.OpenCreate != 0 {
		if err := db.AutoMigrate(&kvRecord{}); err != nil {
			return nil, err
		}
	}
	return &PGDict{db: db}, nil
}

func (d *PGDict) Get(key string) (string, bool, error) {
	var rec kvRecord
	err := d.db.First(&rec, "k = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.V, true, nil
}

func (d *PGDict) Put(key, value string) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&kvRecord{K: key, V: value}).Error
}

func (d *PGDict) Del(key string) error {
	return d.db.Delete(&kvRecord{}, "k = ?", key).Error
}

func (d *PGDict) Flags() int {
	return dict.FlagDupReplace | dict.FlagSyncUpdate
}

func (d *PGDict) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
