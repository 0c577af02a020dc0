// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements TCG Storage Core Data Stream

package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/drivetrust/tcgstorage/pkg/core/tcgerr"
)

type TokenType uint8

type List []interface{}

var (
	StartList        TokenType = 0xF0
	EndList          TokenType = 0xF1
	StartName        TokenType = 0xF4
	EndName          TokenType = 0xF5
	Call             TokenType = 0xF8
	EndOfData        TokenType = 0xF9
	EndOfSession     TokenType = 0xFA
	StartTransaction TokenType = 0xFB
	EndTransaction   TokenType = 0xFC
	EmptyAtom        TokenType = 0xFF
	OpalFalse        TokenType = 0x00
	OpalTrue         TokenType = 0x01
	OpalValue        TokenType = 0x01
	OpalPIN          TokenType = 0x03
	OpalWhere        TokenType = 0x00
	ReadLockEnabled  TokenType = 0x05
	WriteLockEnabled TokenType = 0x06

	ErrUnbalancedList = errors.New("message contained unbalanced list structures")
)

func (t *TokenType) String() string {
	switch *t {
	case (StartList):
		return "StartList"
	case (EndList):
		return "EndList"
	case (StartName):
		return "StartName"
	case (EndName):
		return "EndName"
	case (Call):
		return "Call"
	case (EndOfData):
		return "EndOfData"
	case (EndOfSession):
		return "EndOfSession"
	case (StartTransaction):
		return "StartTransaction"
	case (EndTransaction):
		return "EndTransaction"
	case (EmptyAtom):
		return "EmptyAtom"
	}
	return "<Unknown>"
}

// Token encodes a single control token.
func Token(tok TokenType) []byte {
	return []byte{byte(tok)}
}

// UInt encodes an unsigned integer atom: a tiny atom for values below 64,
// otherwise a short atom with a 2-, 4- or 8-byte big-endian payload,
// whichever is the first to hold the value. The payload is not trimmed to
// the fewest bytes (e.g. 131072 takes 4 bytes, not 3), and medium and long
// atoms are never produced.
func UInt(val uint) []byte {
	switch {
	case val < 64:
		return []byte{uint8(val)}
	case val < 1<<16:
		x := make([]byte, 3)
		x[0] = 0x82
		binary.BigEndian.PutUint16(x[1:], uint16(val))
		return x
	case val < 1<<32:
		x := make([]byte, 5)
		x[0] = 0x84
		binary.BigEndian.PutUint32(x[1:], uint32(val))
		return x
	default:
		x := make([]byte, 9)
		x[0] = 0x88
		binary.BigEndian.PutUint64(x[1:], uint64(val))
		return x
	}
}

// Bytes encodes a byte-sequence atom, picking the minimal atom shape
// (short/medium/long) that can hold the sequence.
func Bytes(b []byte) []byte {
	// Tiny atoms are not used for binary ("3.2.2.3.1 Simple Tokens – Atoms Overview")
	switch {
	case len(b) < 16:
		// Short Atom and 0-Length Atom
		return append([]byte{0xa0 | uint8(len(b))}, b...)
	case len(b) < 2048:
		// Medium atom
		return append([]byte{0xd0 | uint8((len(b)>>8)&0x7), uint8(len(b) & 0xff)}, b...)
	default:
		// Long atom
		return append([]byte{0xe2, uint8((len(b) >> 16) & 0xff), uint8((len(b) >> 8) & 0xff), uint8(len(b) & 0xff)}, b...)
	}
}

func Decode(b []byte) (List, error) {
	res, rest, err := internalDecode(b, 0)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, tcgerr.New(tcgerr.KindTokenInvalidEncoding, ErrUnbalancedList.Error())
	}
	return res, nil
}

func internalDecode(b []byte, depth int) (List, []byte, error) {
	res := List{}
	for len(b) > 0 {
		s := 1
		var x interface{}
		switch {
		case b[0]&0x80 == 0:
			// Tiny atom
			x = uint(b[0])
		case b[0]&0xC0 == 0x80:
			// Short atom
			isbyte := b[0]&0x20 > 0
			s = int(b[0] & 0xf)
			if len(b) < 1+s {
				return nil, nil, tcgerr.New(tcgerr.KindTokenTruncated, "short atom truncated")
			}
			if isbyte {
				bc := make([]byte, s)
				copy(bc, b[1:1+s])
				x = bc
			} else {
				if s > 8 {
					return nil, nil, tcgerr.New(tcgerr.KindTokenInvalidEncoding, "short atom integer longer than 8 bytes")
				}
				var v uint
				for _, i := range b[1 : 1+s] {
					v = v<<8 | uint(i)
				}
				x = v
			}
			s += 1
		case b[0]&0xE0 == 0xC0:
			// Medium atom
			if len(b) < 2 {
				return nil, nil, tcgerr.New(tcgerr.KindTokenTruncated, "medium atom header truncated")
			}
			isbyte := b[0]&0x10 > 0
			n := int(b[0]&0x7)<<8 | int(b[1])
			if len(b) < 2+n {
				return nil, nil, tcgerr.New(tcgerr.KindTokenTruncated, "medium atom truncated")
			}
			if isbyte {
				bc := make([]byte, n)
				copy(bc, b[2:2+n])
				x = bc
			} else {
				if n > 8 {
					return nil, nil, tcgerr.New(tcgerr.KindTokenInvalidEncoding, "medium atom integer longer than 8 bytes")
				}
				var v uint
				for _, i := range b[2 : 2+n] {
					v = v<<8 | uint(i)
				}
				x = v
			}
			s = n + 2
		case b[0]&0xF0 == 0xE0:
			// Long atom
			if len(b) < 4 {
				return nil, nil, tcgerr.New(tcgerr.KindTokenTruncated, "long atom header truncated")
			}
			isbyte := b[0]&0x02 > 0
			n := int(b[1])<<16 | int(b[2])<<8 | int(b[3])
			if len(b) < 4+n {
				return nil, nil, tcgerr.New(tcgerr.KindTokenTruncated, "long atom truncated")
			}
			if isbyte {
				bc := make([]byte, n)
				copy(bc, b[4:4+n])
				x = bc
			} else {
				if n > 8 {
					return nil, nil, tcgerr.New(tcgerr.KindTokenInvalidEncoding, "long atom integer longer than 8 bytes")
				}
				var v uint
				for _, i := range b[4 : 4+n] {
					v = v<<8 | uint(i)
				}
				x = v
			}
			s = n + 4
		case b[0] == byte(StartList):
			list, rest, err := internalDecode(b[1:], depth+1)
			if err != nil {
				return nil, nil, err
			}
			s = len(b) - len(rest)
			x = list
		case b[0] == byte(EndList):
			if depth == 0 {
				return nil, nil, tcgerr.New(tcgerr.KindTokenInvalidEncoding, ErrUnbalancedList.Error())
			}
			b = b[1:]
			return res, b, nil
		case b[0]&0xF0 == 0xF0:
			// Control token
			x = TokenType(uint8(b[0]))
			// according to 3.2.2.3.1.5 Empty Atom, EmptyAtom "SHALL be ignored"
			if x == EmptyAtom {
				x = nil
			}
		default:
			return nil, nil, tcgerr.New(tcgerr.KindTokenInvalidEncoding, fmt.Sprintf("unknown atom 0x%02x", b[0]))
		}
		if x != nil {
			res = append(res, x)
		}
		b = b[s:]
	}
	if depth != 0 {
		return nil, nil, tcgerr.New(tcgerr.KindTokenInvalidEncoding, ErrUnbalancedList.Error())
	}
	return res, b, nil
}

func EqualBytes(obj interface{}, b []byte) bool {
	bd, ok := obj.([]byte)
	if !ok {
		return false
	}
	// Special nil case
	if len(b) == 0 && len(bd) == 0 {
		return true
	}
	return bytes.Equal(b, bd)
}

func EqualToken(obj interface{}, b TokenType) bool {
	byt, ok := obj.([]byte)
	if ok {
		return bytes.Equal(byt, []byte{uint8(b)})
	}
	bd, ok := obj.(TokenType)
	if !ok {
		return false
	}
	return bd == b
}

func EqualUInt(obj interface{}, b uint) bool {
	bd, ok := obj.(uint)
	if !ok {
		return false
	}
	return bd == b
}
