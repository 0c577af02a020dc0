// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements TCG Storage Core packetization for communication

package core

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/drivetrust/tcgstorage/pkg/core/tcgerr"
	"github.com/drivetrust/tcgstorage/pkg/debug"
	"github.com/drivetrust/tcgstorage/pkg/drive"
)

var (
	ErrTooLargeComPacket = tcgerr.New(tcgerr.KindComPacketTooLarge, "encountered a too large ComPacket")
	ErrTooLargePacket    = tcgerr.New(tcgerr.KindPacketTooLarge, "encountered a too large Packet")
	ErrComPacketMalformed = tcgerr.New(tcgerr.KindComPacketMalformed, "ComPacket header could not be parsed")
	ErrComPacketEmpty     = tcgerr.New(tcgerr.KindComPacketEmpty, "ComPacket carried no data, TPer has nothing for us yet")
)

// These constants bound the retry loop Receive runs while the TPer reports
// OutstandingData or requires MinTransfer before it has anything ready: the
// poll interval doubles from pollInitialInterval up to pollMaxInterval,
// until defaultPollDeadline (or the ExtendTimeout override) has passed.
const (
	pollInitialInterval = 25 * time.Millisecond
	pollMaxInterval     = 1 * time.Second
	defaultPollDeadline = 30 * time.Second
)

// NOTE: This is almost io.ReadWriter, but not quite - I couldn't figure out
// a good interface use that wouldn't result in a lot of extra copying.
type CommunicationIntf interface {
	Send(ses *Session, data []byte) error
	Receive(ses *Session) ([]byte, error)
}

type plainCom struct {
	d  DriveIntf
	hp HostProperties
	tp TPerProperties
}

type comPacketHeader struct {
	_               uint32
	ComID           uint16
	ComIDExt        uint16
	OutstandingData uint32
	MinTransfer     uint32
	Length          uint32
}
type packetHeader struct {
	TSN             uint32
	HSN             uint32
	SeqNumber       uint32
	_               uint16
	AckType         uint16
	Acknowledgement uint32
	Length          uint32
}
type subPacketHeader struct {
	_      [6]byte
	Kind   uint16
	Length uint32
}

// Low-level communication used to send/receive packets to a TPer or SP.
//
// Implements Subpacket-Packet-ComPacket packet format.
func NewPlainCommunication(d DriveIntf, hp HostProperties, tp TPerProperties) *plainCom {
	return &plainCom{d, hp, tp}
}

func (c *plainCom) hook(ses *Session) debug.Hook {
	if ses == nil {
		return nil
	}
	return ses.debug
}

// pollDeadline returns how long Receive polls for a ComPacket before giving
// up. The ExtendTimeout workaround overrides the default via the
// timeout_extend_ms config key (base deadline override for all I/O, in
// milliseconds), for TPers that are slow to respond under load or when under
// test with injected latency.
func (c *plainCom) pollDeadline(ses *Session) time.Duration {
	if h := c.hook(ses); h != nil && h.HasWorkaround(debug.ExtendTimeout) {
		ms := h.ConfigUint("timeout_extend_ms", uint(defaultPollDeadline/time.Millisecond))
		return time.Duration(ms) * time.Millisecond
	}
	return defaultPollDeadline
}

func (c *plainCom) Send(ses *Session, data []byte) error {
	// From "3.3.10.3 Synchronous Communications Restrictions"
	// > Methods SHALL NOT span ComPackets. In the case where an incomplete method is
	// > submitted, if the TPer is able to identify the associated session, then that session SHALL
	// Maybe add a "fragment" flag to reject too large Sends when synchronous?
	// TODO: Implement fragmentation

	if h := c.hook(ses); h != nil {
		var err error
		if data, err = h.Intercept(debug.BeforeIfSend, data); err != nil {
			return err
		}
	}

	subpkt := bytes.Buffer{}
	spkthdr := subPacketHeader{
		Kind:   0, // Data
		Length: uint32(len(data)),
	}
	if err := binary.Write(&subpkt, binary.BigEndian, &spkthdr); err != nil {
		return err
	}
	subpkt.Write(data)
	if (len(data) % 4) > 0 {
		pad := 4 - (len(data) % 4)
		subpkt.Write(make([]byte, pad))
	}

	pkt := bytes.Buffer{}
	if uint(pkt.Len()) > c.tp.MaxPacketSize {
		return ErrTooLargePacket
	}
	pkthdr := packetHeader{
		TSN:       uint32(ses.TSN),
		HSN:       uint32(ses.HSN),
		SeqNumber: uint32(ses.SeqLastXmit + 1),
		AckType:   0, /* TODO */
		Length:    uint32(subpkt.Len()),
	}
	if !c.tp.SequenceNumbers || !c.hp.SequenceNumbers {
		pkthdr.SeqNumber = 0
	}
	if err := binary.Write(&pkt, binary.BigEndian, &pkthdr); err != nil {
		return err
	}
	pkt.Write(subpkt.Bytes())

	compkt := bytes.Buffer{}
	compkthdr := comPacketHeader{
		ComID:           uint16(ses.ComID & 0xffff),
		ComIDExt:        uint16((ses.ComID & 0xffff0000) >> 16),
		OutstandingData: 0, /* Reserved */
		MinTransfer:     0, /* Reserved */
		Length:          uint32(pkt.Len()),
	}
	if err := binary.Write(&compkt, binary.BigEndian, &compkthdr); err != nil {
		return err
	}
	compkt.Write(pkt.Bytes())
	if uint(compkt.Len()) > c.tp.MaxComPacketSize {
		return ErrTooLargeComPacket
	}
	if c.tp.SequenceNumbers && c.hp.SequenceNumbers {
		ses.SeqLastXmit += 1
	}
	// Extend buffer to be aligned to 512 byte pages which some drives like
	compkt.Write(make([]byte, 512-(compkt.Len()%512)))

	wire := compkt.Bytes()
	if h := c.hook(ses); h != nil {
		var err error
		if wire, err = h.Intercept(debug.AfterIfSend, wire); err != nil {
			return err
		}
	}
	return c.d.IFSend(drive.SecurityProtocolTCGTPer, uint16(ses.ComID), wire)
}

// Receive reads one ComPacket, polling with a growing backoff while the
// TPer reports it has data pending (OutstandingData) or needs more time
// before the minimum transfer size is ready (MinTransfer), per "3.2.3
// ComPacket - OutstandingData and MinTransfer fields". It gives up once
// pollDeadline has elapsed since the first attempt.
func (c *plainCom) Receive(ses *Session) ([]byte, error) {
	deadline := time.Now().Add(c.pollDeadline(ses))
	interval := pollInitialInterval
	for {
		data, outstanding, minTransfer, err := c.receiveOnce(ses)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 || (outstanding == 0 && minTransfer == 0) {
			return data, nil
		}
		if time.Now().After(deadline) {
			return nil, tcgerr.New(tcgerr.KindTimeout, "timed out waiting for ComPacket payload")
		}
		time.Sleep(interval)
		interval *= 2
		if interval > pollMaxInterval {
			interval = pollMaxInterval
		}
	}
}

func (c *plainCom) receiveOnce(ses *Session) (data []byte, outstanding, minTransfer uint32, err error) {
	buf := make([]byte, c.hp.MaxComPacketSize)
	if err := c.d.IFRecv(drive.SecurityProtocolTCGTPer, uint16(ses.ComID), &buf); err != nil {
		return nil, 0, 0, err
	}

	if h := c.hook(ses); h != nil {
		if buf, err = h.Intercept(debug.BeforeIfRecv, buf); err != nil {
			return nil, 0, 0, err
		}
	}

	rdr := bytes.NewBuffer(buf)
	compkthdr := comPacketHeader{}
	if err := binary.Read(rdr, binary.BigEndian, &compkthdr); err != nil {
		return nil, 0, 0, tcgerr.Wrap(tcgerr.KindComPacketMalformed, "ComPacket header truncated", err)
	}
	if uint(compkthdr.Length) > c.hp.MaxComPacketSize {
		return nil, 0, 0, ErrTooLargeComPacket
	}
	if compkthdr.Length == 0 {
		// Nothing ready yet; let the caller decide whether to poll again
		// based on OutstandingData/MinTransfer.
		return nil, compkthdr.OutstandingData, compkthdr.MinTransfer, nil
	}

	pkthdr := packetHeader{}
	if err := binary.Read(rdr, binary.BigEndian, &pkthdr); err != nil {
		return nil, 0, 0, tcgerr.Wrap(tcgerr.KindComPacketMalformed, "Packet header truncated", err)
	}
	if uint(pkthdr.Length) > c.hp.MaxPacketSize {
		return nil, 0, 0, ErrTooLargePacket
	}
	// TODO: Handle SeqNumber
	// TODO: Handle AckType
	if pkthdr.Length == 0 {
		return nil, compkthdr.OutstandingData, compkthdr.MinTransfer, nil
	}

	subpkthdr := subPacketHeader{}
	if err := binary.Read(rdr, binary.BigEndian, &subpkthdr); err != nil {
		return nil, 0, 0, tcgerr.Wrap(tcgerr.KindComPacketMalformed, "SubPacket header truncated", err)
	}
	// TODO: Implement buffer management
	if subpkthdr.Kind != 0 {
		return nil, 0, 0, tcgerr.New(tcgerr.KindComPacketMalformed, "only data subpackets are implemented")
	}
	if rdr.Len() < int(subpkthdr.Length) {
		return nil, 0, 0, ErrComPacketMalformed
	}
	out := rdr.Bytes()[0:subpkthdr.Length]

	if h := c.hook(ses); h != nil {
		var err error
		if out, err = h.Intercept(debug.AfterIfRecv, out); err != nil {
			return nil, 0, 0, err
		}
	}
	if len(out) == 0 {
		return nil, compkthdr.OutstandingData, compkthdr.MinTransfer, ErrComPacketEmpty
	}
	return out, compkthdr.OutstandingData, compkthdr.MinTransfer, nil
}
