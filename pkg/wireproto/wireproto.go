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

// Package wireproto implements the plain-text attribute protocol spoken on
// the local service sockets. A frame is a sequence of "name=value" lines
// followed by an empty line. Numeric attributes are decimal strings.
package wireproto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Attribute names shared by the services.
const (
	AttrRequest       = "request"
	AttrAddress       = "address"
	AttrAddressStatus = "address_status"
	AttrReason        = "reason"
	AttrStatus        = "status"
	AttrTable         = "table"
	AttrFlags         = "flags"
	AttrKey           = "key"
	AttrValue         = "value"
)

// maxLineLen bounds a single attribute line. Longer lines are a protocol
// violation, not something to buffer.
const maxLineLen = 4096

type ScanFlag uint8

const (
	// ScanMore: the caller will scan further attributes from the same
	// frame, do not consume the frame terminator.
	ScanMore ScanFlag = 1 << iota

	// ScanStrict: an attribute that is not the one expected next is an
	// error instead of being skipped.
	ScanStrict
)

var (
	ErrLineTooLong = errors.New("attribute line too long")
)

// Field describes one expected attribute for Scan.
type Field struct {
	Name string
	s    *string
	n    *int
}

// String expects a string attribute named name and stores it into dst.
func String(name string, dst *string) Field {
	return Field{Name: name, s: dst}
}

// Number expects a numeric attribute named name and stores it into dst.
func Number(name string, dst *int) Field {
	return Field{Name: name, n: dst}
}

// PrintField is one attribute to emit with Print.
type PrintField struct {
	name  string
	value string
}

func PrintString(name, v string) PrintField {
	return PrintField{name: name, value: v}
}

func PrintNumber(name string, v int) PrintField {
	return PrintField{name: name, value: strconv.Itoa(v)}
}

// Conn frames attribute requests and replies over a byte stream.
type Conn struct {
	br *bufio.Reader
	bw *bufio.Writer
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		br: bufio.NewReaderSize(rw, maxLineLen),
		bw: bufio.NewWriterSize(rw, maxLineLen),
	}
}

func (c *Conn) readLine() (string, error) {
	line, err := c.br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", ErrLineTooLong
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(line), "\n"), nil
}

// Scan reads the expected attributes in order and returns how many were
// filled in. A frame that ends before all fields were read is not an error
// by itself, callers compare the count against len(fields). Unless ScanMore
// is set, Scan consumes the frame terminator; with ScanStrict a trailing
// unexpected attribute is an error.
func (c *Conn) Scan(flags ScanFlag, fields ...Field) (int, error) {
	n := 0
	for _, f := range fields {
		var value string
		for {
			line, err := c.readLine()
			if err != nil {
				return n, err
			}
			if len(line) == 0 {
				// Frame ended early.
				return n, nil
			}
			name, v, ok := strings.Cut(line, "=")
			if !ok {
				return n, fmt.Errorf("malformed attribute line %q", line)
			}
			if name == f.Name {
				value = v
				break
			}
			if flags&ScanStrict != 0 {
				return n, fmt.Errorf("unexpected attribute %q, want %q", name, f.Name)
			}
		}
		if f.n != nil {
			v, err := strconv.Atoi(value)
			if err != nil {
				return n, fmt.Errorf("attribute %s: bad number %q", f.Name, value)
			}
			*f.n = v
		} else {
			*f.s = value
		}
		n++
	}

	if flags&ScanMore != 0 {
		return n, nil
	}

	// Consume the frame terminator.
	for {
		line, err := c.readLine()
		if err != nil {
			return n, err
		}
		if len(line) == 0 {
			return n, nil
		}
		if flags&ScanStrict != 0 {
			return n, fmt.Errorf("unexpected trailing attribute %q", line)
		}
	}
}

// Print appends the attributes and the frame terminator to the write
// buffer. The reply is not on the wire until Flush.
func (c *Conn) Print(fields ...PrintField) error {
	for _, f := range fields {
		if strings.ContainsAny(f.value, "\n") {
			return fmt.Errorf("attribute %s: value contains newline", f.name)
		}
		if _, err := c.bw.WriteString(f.name); err != nil {
			return err
		}
		if err := c.bw.WriteByte('='); err != nil {
			return err
		}
		if _, err := c.bw.WriteString(f.value); err != nil {
			return err
		}
		if err := c.bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return c.bw.WriteByte('\n')
}

func (c *Conn) Flush() error {
	return c.bw.Flush()
}
