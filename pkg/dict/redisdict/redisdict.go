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

// Package redisdict provides a redis-backed table. The reference name is a
// redis URL without the scheme, e.g. "redis:localhost:6379/0". Values are
// snappy-compressed on the wire.
package redisdict

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/openmx/mailmapd/pkg/dict"
	"github.com/openmx/mailmapd/pkg/utils"
)

var nopLogger = zap.NewNop()

func init() {
	dict.RegisterType("redis", func(name string, flags int) (dict.Dict, error) {
		opt, err := redis.ParseURL("redis://" + name)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opt)
		return NewRedisDict(RedisDictOpts{Client: client, ClientCloser: client}), nil
	})
}

type RedisDictOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisDict.Close is called.
	// Optional.
	ClientCloser interface{ Close() error }

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is 1s.
	ClientTimeout time.Duration

	// Logger is the *zap.Logger for this RedisDict.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisDictOpts) init() {
	utils.SetDefaultNum(&opts.ClientTimeout, time.Second)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

type RedisDict struct {
	opts           RedisDictOpts
	clientDisabled uint32
}

var errClientDisabled = errors.New("redis client temporarily disabled")

func NewRedisDict(opts RedisDictOpts) *RedisDict {
	opts.init()
	return &RedisDict{opts: opts}
}

func (d *RedisDict) disabled() bool {
	return atomic.LoadUint32(&d.clientDisabled) != 0
}

// disableClient takes the client offline and pings it in the background
// until it answers again. Lookups fail fast in the meantime instead of
// stalling every request on a dead server.
func (d *RedisDict) disableClient() {
	if atomic.CompareAndSwapUint32(&d.clientDisabled, 0, 1) {
		d.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := d.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					d.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&d.clientDisabled, 0)
				return
			}
		}()
	}
}

func (d *RedisDict) Get(key string) (string, bool, error) {
	if d.disabled() {
		return "", false, errClientDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ClientTimeout)
	defer cancel()
	b, err := d.opts.Client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		d.opts.Logger.Warn("redis get", zap.Error(err))
		d.disableClient()
		return "", false, err
	}

	v, err := snappy.Decode(nil, b)
	if err != nil {
		d.opts.Logger.Warn("redis data decode error", zap.Error(err))
		return "", false, err
	}
	return string(v), true, nil
}

func (d *RedisDict) Put(key, value string) error {
	if d.disabled() {
		return errClientDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ClientTimeout)
	defer cancel()
	data := snappy.Encode(nil, []byte(value))
	if err := d.opts.Client.Set(ctx, key, data, 0).Err(); err != nil {
		d.opts.Logger.Warn("redis set", zap.Error(err))
		d.disableClient()
		return err
	}
	return nil
}

func (d *RedisDict) Del(key string) error {
	if d.disabled() {
		return errClientDisabled
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ClientTimeout)
	defer cancel()
	if err := d.opts.Client.Del(ctx, key).Err(); err != nil {
		d.opts.Logger.Warn("redis del", zap.Error(err))
		d.disableClient()
		return err
	}
	return nil
}

func (d *RedisDict) Flags() int {
	return dict.FlagDupReplace | dict.FlagSyncUpdate
}

func (d *RedisDict) Close() error {
	if c := d.opts.ClientCloser; c != nil {
		return c.Close()
	}
	return nil
}
