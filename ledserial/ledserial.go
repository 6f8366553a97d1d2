// Package ledserial implements the serial protocol spoken between the host and
// a matrix controller board.
//
// Every packet is a one-byte type, a type-specific body and a little-endian
// CRC-32 (IEEE) of the type and body.
package ledserial

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// Endianness defines the endianness of the protocol.
var Endianness = binary.LittleEndian

// ErrChecksum is returned when a packet trailer does not match its contents.
var ErrChecksum = errors.New("packet checksum mismatch")

// MaxMessageLength is the longest message an error or log packet may carry.
const MaxMessageLength = 1024

// IncomingPacketType is the type of a packet sent to the controller.
type IncomingPacketType uint8

const (
	TypeInitializePacket IncomingPacketType = iota
	TypeClearPacket
	TypeSetPacket
)

// String returns a string representation of the packet type.
func (t IncomingPacketType) String() string {
	switch t {
	case TypeInitializePacket:
		return "initialize"
	case TypeClearPacket:
		return "clear"
	case TypeSetPacket:
		return "set"
	default:
		return fmt.Sprintf("IncomingPacketType(%d)", t)
	}
}

// IncomingPacket is a packet sent to the controller.
type IncomingPacket interface {
	// Type returns the type of packet.
	Type() IncomingPacketType
}

// InitializePacket configures the matrix geometry and color depth.
type InitializePacket struct {
	Width    uint16
	Height   uint16
	BitDepth uint8
}

// ClearPacket blanks the matrix.
type ClearPacket struct{}

// SetPacket replaces the whole frame. Pix holds 3 bytes per pixel in row-major
// order.
type SetPacket struct {
	Pix []uint8
}

func (p InitializePacket) Type() IncomingPacketType { return TypeInitializePacket }
func (p ClearPacket) Type() IncomingPacketType      { return TypeClearPacket }
func (p SetPacket) Type() IncomingPacketType        { return TypeSetPacket }

// OutgoingPacketType is the type of a packet sent by the controller.
type OutgoingPacketType uint8

const (
	TypeErrorPacket OutgoingPacketType = iota
	TypePanicPacket
	TypeLogPacket
	TypeAckPacket
)

// String returns a string representation of the packet type.
func (t OutgoingPacketType) String() string {
	switch t {
	case TypeErrorPacket:
		return "error"
	case TypePanicPacket:
		return "panic"
	case TypeLogPacket:
		return "log"
	case TypeAckPacket:
		return "ack"
	default:
		return fmt.Sprintf("OutgoingPacketType(%d)", t)
	}
}

// OutgoingPacket is a packet sent by the controller.
type OutgoingPacket interface {
	// Type returns the type of packet.
	Type() OutgoingPacketType
}

// ErrorPacket reports a recoverable error on the controller.
type ErrorPacket struct {
	Message string
}

// PanicPacket reports that the controller cannot recover.
type PanicPacket struct{}

// LogPacket carries a log line from the controller.
type LogPacket struct {
	Message string
}

// AckPacket acknowledges an incoming packet.
type AckPacket struct {
	IncomingPacketType IncomingPacketType
}

func (p ErrorPacket) Type() OutgoingPacketType { return TypeErrorPacket }
func (p PanicPacket) Type() OutgoingPacketType { return TypePanicPacket }
func (p LogPacket) Type() OutgoingPacketType   { return TypeLogPacket }
func (p AckPacket) Type() OutgoingPacketType   { return TypeAckPacket }

// ReadContext is the state of the matrix that the reader needs to size
// variable-length packets.
type ReadContext struct {
	Width  uint16
	Height uint16
}

// FrameSize returns the number of pixel bytes in a SetPacket.
func (c ReadContext) FrameSize() int {
	return 3 * int(c.Width) * int(c.Height)
}

// ReadIncomingPacket reads an incoming packet from the given reader.
func ReadIncomingPacket(r io.Reader, context ReadContext) (IncomingPacket, error) {
	hash := crc32.NewIEEE()
	r = io.TeeReader(r, hash)

	ptype, err := readType(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read incoming packet type")
	}

	var packet IncomingPacket

	switch ptype := IncomingPacketType(ptype); ptype {
	case TypeInitializePacket:
		var p InitializePacket
		if err := binary.Read(r, Endianness, &p); err != nil {
			return nil, errors.Wrap(err, "failed to read matrix geometry")
		}
		packet = p

	case TypeClearPacket:
		packet = ClearPacket{}

	case TypeSetPacket:
		p := SetPacket{Pix: make([]uint8, context.FrameSize())}
		if _, err := io.ReadFull(r, p.Pix); err != nil {
			return nil, errors.Wrap(err, "failed to read pixel data")
		}
		packet = p

	default:
		return nil, errors.Errorf("unknown packet type: %s", ptype)
	}

	if err := verifyChecksum(r, hash.Sum32()); err != nil {
		return nil, err
	}

	return packet, nil
}

// WriteIncomingPacket writes an incoming packet to the given writer. The
// packet is assembled in memory and written with a single call.
func WriteIncomingPacket(w io.Writer, p IncomingPacket) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Type()))

	switch p := p.(type) {
	case InitializePacket:
		binary.Write(&buf, Endianness, p)
	case ClearPacket:
	case SetPacket:
		buf.Write(p.Pix)
	default:
		return errors.Errorf("unknown packet type: %T", p)
	}

	return writeFramed(w, &buf)
}

// ReadOutgoingPacket reads an outgoing packet from the given reader.
func ReadOutgoingPacket(r io.Reader) (OutgoingPacket, error) {
	hash := crc32.NewIEEE()
	r = io.TeeReader(r, hash)

	ptype, err := readType(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read outgoing packet type")
	}

	var packet OutgoingPacket

	switch ptype := OutgoingPacketType(ptype); ptype {
	case TypeErrorPacket:
		msg, err := readMessage(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read error message")
		}
		packet = ErrorPacket{Message: msg}

	case TypePanicPacket:
		packet = PanicPacket{}

	case TypeLogPacket:
		msg, err := readMessage(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read log message")
		}
		packet = LogPacket{Message: msg}

	case TypeAckPacket:
		acked, err := readType(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read acknowledged type")
		}
		packet = AckPacket{IncomingPacketType: IncomingPacketType(acked)}

	default:
		return nil, errors.Errorf("unknown packet type: %s", ptype)
	}

	if err := verifyChecksum(r, hash.Sum32()); err != nil {
		return nil, err
	}

	return packet, nil
}

// WriteOutgoingPacket writes an outgoing packet to the given writer.
func WriteOutgoingPacket(w io.Writer, p OutgoingPacket) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Type()))

	switch p := p.(type) {
	case ErrorPacket:
		if err := writeMessage(&buf, p.Message); err != nil {
			return errors.Wrap(err, "failed to write error message")
		}
	case PanicPacket:
	case LogPacket:
		if err := writeMessage(&buf, p.Message); err != nil {
			return errors.Wrap(err, "failed to write log message")
		}
	case AckPacket:
		buf.WriteByte(byte(p.IncomingPacketType))
	default:
		return errors.Errorf("unknown packet type: %T", p)
	}

	return writeFramed(w, &buf)
}

func readType(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readMessage(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, Endianness, &length); err != nil {
		return "", errors.Wrap(err, "failed to read length")
	}
	if length > MaxMessageLength {
		return "", errors.Errorf("message length %d exceeds %d", length, MaxMessageLength)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeMessage(buf *bytes.Buffer, msg string) error {
	if len(msg) > MaxMessageLength {
		return errors.Errorf("message length %d exceeds %d", len(msg), MaxMessageLength)
	}
	binary.Write(buf, Endianness, uint16(len(msg)))
	buf.WriteString(msg)
	return nil
}

// verifyChecksum reads the trailer from r and compares it against sum, which
// must be taken before the trailer is read.
func verifyChecksum(r io.Reader, sum uint32) error {
	var checksum uint32
	if err := binary.Read(r, Endianness, &checksum); err != nil {
		return errors.Wrap(err, "failed to read packet checksum")
	}
	if checksum != sum {
		return ErrChecksum
	}
	return nil
}

func writeFramed(w io.Writer, buf *bytes.Buffer) error {
	binary.Write(buf, Endianness, crc32.ChecksumIEEE(buf.Bytes()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write packet")
	}
	return nil
}
