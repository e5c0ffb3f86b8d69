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

// Package probe submits address-verification probe messages to the mail
// queue. A probe is routed and rewritten like real mail but never
// delivered; the queue reports the outcome back through the verify
// service's update request.
package probe

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Submitter queues one probe message. Submission is synchronous; a nil
// return means the probe is in the queue's hands, anything else means it
// never left.
type Submitter interface {
	Submit(ctx context.Context, sender, rcpt string) error
}

// NormalizeSender maps the "<>" spelling of the null sender to the empty
// string used internally.
func NormalizeSender(s string) string {
	if s == "<>" {
		return ""
	}
	return s
}

// Maildrop drops probe envelope files into a spool directory picked up by
// the queue manager.
type Maildrop struct {
	Dir string

	seq atomic.Uint64
}

func NewMaildrop(dir string) *Maildrop {
	return &Maildrop{Dir: dir}
}

func (m *Maildrop) Submit(ctx context.Context, sender, rcpt string) error {
	name := fmt.Sprintf("probe.%d.%d.%d", os.Getpid(), time.Now().UnixNano(), m.seq.Add(1))
	path := filepath.Join(m.Dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create probe file: %w", err)
	}

	_, werr := fmt.Fprintf(f, "S=%s\nR=%s\nF=verify\n", sender, rcpt)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		// A half-written envelope must not reach the queue.
		os.Remove(path)
		if werr != nil {
			return fmt.Errorf("write probe file: %w", werr)
		}
		return fmt.Errorf("close probe file: %w", cerr)
	}
	return nil
}

// SMTP submits probes through a local submission socket.
type SMTP struct {
	Addr string
}

func NewSMTP(addr string) *SMTP {
	return &SMTP{Addr: addr}
}

func (s *SMTP) Submit(ctx context.Context, sender, rcpt string) error {
	msg := fmt.Sprintf("To: <%s>\nX-Verify-Probe: yes\n\n", rcpt)
	if err := smtp.SendMail(s.Addr, nil, sender, []string{rcpt}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp probe submission: %w", err)
	}
	return nil
}
