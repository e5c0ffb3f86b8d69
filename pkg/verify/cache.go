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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openmx/mailmapd/pkg/dict"
	"github.com/openmx/mailmapd/pkg/probe"
)

// probeTTL is how long a submitted probe is assumed to be outstanding. No
// second probe is sent for the same address within this window. If the
// window is too small the queue slowly fills up with duplicate probes.
const probeTTL = 1000 * time.Second

const todoText = "Address verification in progress"

var nopLogger = zap.NewNop()

// ErrBadStatus is returned by Update for a status that is not a valid
// probe result.
var ErrBadStatus = errors.New("bad recipient status")

type CacheOpts struct {
	// Table is the backing store. Cannot be nil.
	Table dict.Dict

	// Submitter queues probe messages. Cannot be nil.
	Submitter probe.Submitter

	// Sender is the envelope sender of probe messages. Empty is the null
	// sender.
	Sender string

	PositiveExpire  time.Duration
	PositiveRefresh time.Duration
	NegativeExpire  time.Duration
	NegativeRefresh time.Duration

	// NegativeCache controls whether non-OK results are persisted.
	NegativeCache bool

	// Now is the wall clock. Defaults to time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this Cache.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// Registerer optionally registers the probe counter.
	Registerer prometheus.Registerer
}

func (opts *CacheOpts) init() error {
	if opts.Table == nil {
		return errors.New("nil table")
	}
	if opts.Submitter == nil {
		return errors.New("nil probe submitter")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Cache is the address-verification cache engine. All table access goes
// through one mutex: a query's read-modify-write, including the probe
// submission and its conditional write-back, is indivisible, so two
// concurrent cold queries for the same address cannot both probe.
type Cache struct {
	opts CacheOpts

	mu sync.Mutex

	probesTotal *prometheus.CounterVec
}

func NewCache(opts CacheOpts) (*Cache, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	c := &Cache{
		opts: opts,
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmapd_verify_probes_total",
			Help: "Probe messages submitted to the mail queue, by result.",
		}, []string{"result"}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(c.probesTotal)
	}
	return c, nil
}

func (c *Cache) positiveExpired(e Entry, now int64) bool {
	return e.Status == StatusOK && e.Updated+int64(c.opts.PositiveExpire/time.Second) < now
}

func (c *Cache) negativeExpired(e Entry, now int64) bool {
	return e.Status != StatusOK && e.Updated+int64(c.opts.NegativeExpire/time.Second) < now
}

func (c *Cache) positiveRefreshNeeded(e Entry, now int64) bool {
	return e.Status == StatusOK && e.Updated+int64(c.opts.PositiveRefresh/time.Second) < now
}

func (c *Cache) negativeRefreshNeeded(e Entry, now int64) bool {
	return e.Status != StatusOK && e.Updated+int64(c.opts.NegativeRefresh/time.Second) < now
}

// Query looks up the verification status of addr and returns the status
// and descriptive text for the client. When no usable record exists, or
// the record expired with no probe outstanding, the answer is a Todo
// default and a probe cycle starts. When the record merely needs a
// refresh, the cached answer is returned and a proactive probe goes out.
func (c *Cache) Query(ctx context.Context, addr string) (Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.opts.Logger
	now := c.opts.Now().Unix()

	raw, found, err := c.opts.Table.Get(addr)
	if err != nil {
		log.Warn("table read failed, treating entry as missing",
			zap.String("address", addr), zap.Error(err))
		found = false
	}

	var e Entry
	usable := false
	if found {
		var perr error
		e, perr = parseEntry(raw)
		if perr != nil {
			log.Warn(perr.Error())
		} else {
			usable = true
		}
	}

	// Produce a default record when no usable record exists, or when the
	// record expired and it is safe to probe again.
	//
	// If negative caching is disabled, purge the stored record.
	if !usable ||
		(now-e.Probed > int64(probeTTL/time.Second) &&
			(c.positiveExpired(e, now) || c.negativeExpired(e, now))) {
		if found && !c.opts.NegativeCache {
			if err := c.opts.Table.Del(addr); err != nil {
				log.Warn("table delete failed", zap.String("address", addr), zap.Error(err))
			}
		}
		e = Entry{Status: StatusTodo, Probed: 0, Updated: 0, Text: todoText}
	}

	log.Debug("GOT",
		zap.String("address", addr),
		zap.Int("status", int(e.Status)),
		zap.Int64("probed", e.Probed),
		zap.Int64("updated", e.Updated),
		zap.String("text", e.Text))

	// Send a new probe when the information needs to be refreshed.
	//
	// If negative caching is turned off, update the table only when
	// refreshing an existing entry: a Todo-only record must not be
	// persisted.
	if now-e.Probed > int64(probeTTL/time.Second) &&
		(c.positiveRefreshNeeded(e, now) || c.negativeRefreshNeeded(e, now)) {
		log.Debug("PROBE",
			zap.String("address", addr),
			zap.Int("status", int(e.Status)),
			zap.Int64("probed", now),
			zap.Int64("updated", e.Updated))
		if err := c.opts.Submitter.Submit(ctx, c.opts.Sender, addr); err != nil {
			c.probesTotal.WithLabelValues("failed").Inc()
			log.Warn("probe submission failed", zap.String("address", addr), zap.Error(err))
		} else {
			c.probesTotal.WithLabelValues("submitted").Inc()
			if e.Updated != 0 || c.opts.NegativeCache {
				put := makeEntry(e.Status, now, e.Updated, e.Text)
				log.Debug("PUT", zap.String("address", addr), zap.String("entry", put))
				if err := c.opts.Table.Put(addr, put); err != nil {
					log.Warn("table write failed", zap.String("address", addr), zap.Error(err))
				}
			}
		}
	}

	return e.Status, e.Text
}

// Update applies a probe result. A failed probe never clobbers an OK
// address before it expires: the failed result is dropped so that the
// address is re-probed on the next query, and as long as some probes
// succeed the address stays cached as OK.
func (c *Cache) Update(addr string, status Status, text string) error {
	if !status.validUpdate() {
		return ErrBadStatus
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.opts.Logger

	if status != StatusOK {
		raw, found, err := c.opts.Table.Get(addr)
		if err != nil {
			log.Warn("table read failed", zap.String("address", addr), zap.Error(err))
		}
		if err == nil && found && rawStatus(raw) == StatusOK {
			// Protective rule: keep the positive entry.
			return nil
		}
	}

	updated := c.opts.Now().Unix()
	put := makeEntry(status, 0, updated, text)
	log.Debug("PUT", zap.String("address", addr), zap.String("entry", put))
	if err := c.opts.Table.Put(addr, put); err != nil {
		log.Warn("table write failed", zap.String("address", addr), zap.Error(err))
	}
	return nil
}
