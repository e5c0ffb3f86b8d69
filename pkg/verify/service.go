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
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openmx/mailmapd/pkg/wireproto"
)

// Request names understood by the verify service.
const (
	ReqQuery  = "query"
	ReqUpdate = "update"
)

// Server reply status codes.
const (
	StatOK   = 0 // request completed normally
	StatBad  = 1 // request rejected
	StatFail = 2 // request failed
)

type ServiceOpts struct {
	// Cache cannot be nil.
	Cache *Cache

	// Logger is the *zap.Logger for this Service.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// Registerer optionally registers the request counters.
	Registerer prometheus.Registerer
}

// Service dispatches verify requests read from a client connection. Each
// connection carries exactly one request.
type Service struct {
	cache  *Cache
	logger *zap.Logger

	requestsTotal *prometheus.CounterVec
}

func NewService(opts ServiceOpts) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger
	}
	s := &Service{
		cache:  opts.Cache,
		logger: logger,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailmapd_verify_requests_total",
			Help: "Verify requests served, by request name and reply status.",
		}, []string{"request", "status"}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(s.requestsTotal)
	}
	return s
}

func statLabel(stat int) string {
	switch stat {
	case StatOK:
		return "ok"
	case StatBad:
		return "bad"
	default:
		return "fail"
	}
}

// ServeConn handles one client connection: one request, one reply, flush,
// return.
func (s *Service) ServeConn(ctx context.Context, conn net.Conn) error {
	c := wireproto.NewConn(conn)

	var req string
	n, err := c.Scan(wireproto.ScanMore|wireproto.ScanStrict,
		wireproto.String(wireproto.AttrRequest, &req))
	if err != nil || n != 1 {
		return err
	}

	switch req {
	case ReqQuery:
		err = s.query(ctx, c)
	case ReqUpdate:
		err = s.update(c)
	default:
		s.logger.Warn("unrecognized request, ignored", zap.String("request", req))
		s.requestsTotal.WithLabelValues("unknown", "bad").Inc()
		err = c.Print(wireproto.PrintNumber(wireproto.AttrStatus, StatBad))
	}
	if err != nil {
		return err
	}
	return c.Flush()
}

func (s *Service) query(ctx context.Context, c *wireproto.Conn) error {
	var addr string
	n, err := c.Scan(wireproto.ScanStrict, wireproto.String(wireproto.AttrAddress, &addr))
	if err != nil || n != 1 {
		return err
	}

	status, text := s.cache.Query(ctx, addr)
	s.requestsTotal.WithLabelValues(ReqQuery, "ok").Inc()
	return c.Print(
		wireproto.PrintNumber(wireproto.AttrStatus, StatOK),
		wireproto.PrintNumber(wireproto.AttrAddressStatus, int(status)),
		wireproto.PrintString(wireproto.AttrReason, text),
	)
}

func (s *Service) update(c *wireproto.Conn) error {
	var addr, text string
	var addrStatus int
	n, err := c.Scan(wireproto.ScanStrict,
		wireproto.String(wireproto.AttrAddress, &addr),
		wireproto.Number(wireproto.AttrAddressStatus, &addrStatus),
		wireproto.String(wireproto.AttrReason, &text),
	)
	if err != nil || n != 3 {
		return err
	}

	stat := StatOK
	if err := s.cache.Update(addr, Status(addrStatus), text); err != nil {
		s.logger.Warn("bad recipient status",
			zap.Int("status", addrStatus), zap.String("address", addr))
		stat = StatBad
	}
	s.requestsTotal.WithLabelValues(ReqUpdate, statLabel(stat)).Inc()
	return c.Print(wireproto.PrintNumber(wireproto.AttrStatus, stat))
}
