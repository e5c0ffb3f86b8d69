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

// Package proxymap implements the table-proxy service: a gatekept lookup
// multiplexer that shares open table handles between clients that cannot
// or should not open the tables themselves.
package proxymap

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openmx/mailmapd/pkg/utils"
	"github.com/openmx/mailmapd/pkg/wireproto"
)

// Request names understood by the proxymap service.
const (
	ReqOpen   = "open"
	ReqLookup = "lookup"
)

// Server reply status codes.
const (
	StatOK    = 0 // value found / open succeeded
	StatRetry = 1 // transient backing-store failure
	StatNoKey = 2 // key not found, no error
	StatBad   = 3 // malformed request
	StatDeny  = 4 // table not on the allow-list
)

var nopLogger = zap.NewNop()

type ServiceOpts struct {
	// ProxyReadMaps is the whitespace-separated allow-list config value.
	ProxyReadMaps string

	// IdleTimeout bounds the wait for the next request on a connection.
	// Default is 100s.
	IdleTimeout time.Duration

	// Logger is the *zap.Logger for this Service.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// Registerer optionally registers the request counters.
	Registerer prometheus.Registerer
}

func (opts *ServiceOpts) init() {
	utils.SetDefaultNum(&opts.IdleTimeout, 100*time.Second)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

// Service serves open and lookup requests. A single connection carries
// repeated requests; sharing the open handles across them is the point of
// the service.
type Service struct {
	opts    ServiceOpts
	allow   *Allowlist
	handles *handleCache

	requestsTotal *prometheus.CounterVec
	handleGauge   prometheus.GaugeFunc
}

func NewService(opts ServiceOpts) *Service {
	opts.init()
	s := &Service{
		opts:    opts,
		allow:   NewAllowlist(opts.ProxyReadMaps),
		handles: newHandleCache(opts.Logger),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmapd_proxymap_requests_total",
			Help: "Proxymap requests served, by request name and reply status.",
		}, []string{"request", "status"}),
	}
	s.handleGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mailmapd_proxymap_open_handles",
		Help: "Open table handles shared by the proxymap service.",
	}, func() float64 { return float64(s.handles.len()) })
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(s.requestsTotal, s.handleGauge)
	}
	return s
}

func statLabel(stat int) string {
	switch stat {
	case StatOK:
		return "ok"
	case StatRetry:
		return "retry"
	case StatNoKey:
		return "nokey"
	case StatBad:
		return "bad"
	case StatDeny:
		return "deny"
	default:
		return "other"
	}
}

// ServeConn serves requests until the client disconnects or idles out.
func (s *Service) ServeConn(ctx context.Context, conn net.Conn) error {
	c := wireproto.NewConn(conn)
	for {
		if s.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}

		var req string
		n, err := c.Scan(wireproto.ScanMore|wireproto.ScanStrict,
			wireproto.String(wireproto.AttrRequest, &req))
		if err != nil || n != 1 {
			if err == nil || errors.Is(err, io.EOF) {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil
			}
			return err
		}

		switch req {
		case ReqLookup:
			err = s.lookup(c)
		case ReqOpen:
			err = s.open(c)
		default:
			s.opts.Logger.Warn("unrecognized request, ignored", zap.String("request", req))
			s.requestsTotal.WithLabelValues("unknown", "bad").Inc()
			// Drain the rest of the frame so the connection stays usable.
			if _, err = c.Scan(0); err == nil {
				err = c.Print(wireproto.PrintNumber(wireproto.AttrStatus, StatBad))
			}
		}
		if err != nil {
			return err
		}
		if err := c.Flush(); err != nil {
			return err
		}
	}
}

func (s *Service) lookup(c *wireproto.Conn) error {
	var table, key string
	var flags int
	n, err := c.Scan(wireproto.ScanStrict,
		wireproto.String(wireproto.AttrTable, &table),
		wireproto.Number(wireproto.AttrFlags, &flags),
		wireproto.String(wireproto.AttrKey, &key),
	)
	if err != nil {
		return err
	}

	var stat int
	var value string
	if n != 3 {
		stat = StatBad
	} else if d, dstat := s.handles.find(s.allow, table, flags); d == nil {
		stat = dstat
	} else if v, found, gerr := d.Get(key); gerr != nil {
		stat = StatRetry
	} else if found {
		stat = StatOK
		value = v
	} else {
		stat = StatNoKey
	}

	s.requestsTotal.WithLabelValues(ReqLookup, statLabel(stat)).Inc()
	return c.Print(
		wireproto.PrintNumber(wireproto.AttrStatus, stat),
		wireproto.PrintString(wireproto.AttrValue, value),
	)
}

func (s *Service) open(c *wireproto.Conn) error {
	var table string
	var flags int
	n, err := c.Scan(wireproto.ScanStrict,
		wireproto.String(wireproto.AttrTable, &table),
		wireproto.Number(wireproto.AttrFlags, &flags),
	)
	if err != nil {
		return err
	}

	var stat, replyFlags int
	if n != 2 {
		stat = StatBad
	} else if d, dstat := s.handles.find(s.allow, table, flags); d == nil {
		stat = dstat
	} else {
		stat = StatOK
		replyFlags = d.Flags()
	}

	s.requestsTotal.WithLabelValues(ReqOpen, statLabel(stat)).Inc()
	return c.Print(
		wireproto.PrintNumber(wireproto.AttrStatus, stat),
		wireproto.PrintNumber(wireproto.AttrFlags, replyFlags),
	)
}

// HandleCount reports the number of shared open handles.
func (s *Service) HandleCount() int {
	return s.handles.len()
}
