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

package proxymap

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/openmx/mailmapd/pkg/dict"
)

// handleCache shares open table handles across clients. One table instance
// exists per (type:name, open flags) combination; handles are never closed
// explicitly, the process restarts when a table changes on disk and that
// tears them all down together.
type handleCache struct {
	mu sync.Mutex
	m  map[string]dict.Dict

	logger *zap.Logger
}

func newHandleCache(logger *zap.Logger) *handleCache {
	return &handleCache{
		m:      make(map[string]dict.Dict),
		logger: logger,
	}
}

// find canonicalizes ref, enforces the allow-list and returns the shared
// handle, opening it on first use. A nil dict is returned together with
// the reply status explaining the refusal.
func (h *handleCache) find(allow *Allowlist, ref string, flags int) (dict.Dict, int) {
	typeName := stripProxyPrefix(ref)
	if !strings.Contains(typeName, ":") {
		return nil, StatBad
	}
	if !allow.Contains(typeName) {
		h.logger.Warn("request for unapproved table", zap.String("table", typeName))
		h.logger.Warn(fmt.Sprintf(
			"to approve this table for proxymap access, list proxy:%s under proxymap.proxy_read_maps",
			typeName))
		return nil, StatDeny
	}

	key := fmt.Sprintf("%s:%o", typeName, flags)

	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.m[key]; ok {
		return d, StatOK
	}
	d, err := dict.Open(typeName, flags)
	if err != nil {
		// The table was approved by the administrator; failing to open it
		// is an internal error the supervisor must see.
		h.logger.Fatal("table open failed", zap.String("table", typeName), zap.Error(err))
	}
	if d == nil {
		h.logger.Fatal("table open returned no handle", zap.String("table", typeName))
	}
	h.m[key] = d
	return d, StatOK
}

func (h *handleCache) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.m)
}
