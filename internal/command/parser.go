package command

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxLineLength is the longest line accepted by default, excluding the
// terminator.
const DefaultMaxLineLength = 128

// ErrUnknownTag is returned by ParseLine for lines with an unrecognized tag.
var ErrUnknownTag = errors.New("unknown command")

// State is the state of a Parser.
type State uint8

const (
	// AwaitingStart means no line is in progress.
	AwaitingStart State = iota
	// AccumulatingCommand means the tag of a line is being read.
	AccumulatingCommand
	// AwaitingArgs means the tag is complete and arguments are being read.
	AwaitingArgs
	// Dispatch means a complete line is being decoded.
	Dispatch
	// Resync means the current line is being discarded up to the next
	// terminator.
	Resync
)

func (s State) String() string {
	switch s {
	case AwaitingStart:
		return "awaiting-start"
	case AccumulatingCommand:
		return "accumulating-command"
	case AwaitingArgs:
		return "awaiting-args"
	case Dispatch:
		return "dispatch"
	case Resync:
		return "resync"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Parser assembles newline-terminated command lines out of bytes arriving in
// arbitrary chunks. It never blocks and never holds more than its maximum line
// length.
type Parser struct {
	logger *slog.Logger
	buf    []byte
	maxLen int
	state  State
}

// NewParser creates a parser that accepts lines of up to maxLen bytes. A
// non-positive maxLen selects DefaultMaxLineLength.
func NewParser(maxLen int, logger *slog.Logger) *Parser {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	return &Parser{
		logger: logger,
		buf:    make([]byte, 0, maxLen),
		maxLen: maxLen,
	}
}

// State returns the current parser state.
func (p *Parser) State() State { return p.state }

// Buffered returns the number of bytes held for the line in progress.
func (p *Parser) Buffered() int { return len(p.buf) }

// Reset drops any partial line, e.g. when the client goes away.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.state = AwaitingStart
}

// Feed consumes b and appends every command completed by it to dst.
// Malformed lines are discarded.
func (p *Parser) Feed(dst []Command, b []byte) []Command {
	for _, c := range b {
		switch c {
		case '\r':
			continue
		case '\n':
			switch p.state {
			case AwaitingStart:
				// blank line
			case Resync:
				p.Reset()
			default:
				dst = p.dispatch(dst)
			}
			continue
		}

		switch p.state {
		case Resync:
			continue

		case AwaitingStart:
			if c == ' ' || c == '\t' {
				continue
			}
			if !isTagByte(c) {
				p.resync("malformed command tag", c)
				continue
			}
			p.state = AccumulatingCommand

		case AccumulatingCommand:
			if c == ' ' || c == '\t' {
				p.state = AwaitingArgs
			} else if !isTagByte(c) {
				p.resync("malformed command tag", c)
				continue
			}

		case AwaitingArgs:
			if !isPrintable(c) {
				p.resync("unexpected control byte", c)
				continue
			}
		}

		if len(p.buf) >= p.maxLen {
			p.resync("line too long", c)
			continue
		}
		p.buf = append(p.buf, c)
	}

	return dst
}

func (p *Parser) resync(reason string, c byte) {
	p.logger.Warn(
		"discarding command line",
		"reason", reason,
		"byte", c,
		"buffered", len(p.buf))

	p.buf = p.buf[:0]
	p.state = Resync
}

func (p *Parser) dispatch(dst []Command) []Command {
	p.state = Dispatch

	cmd, err := ParseLine(string(p.buf))
	if err != nil {
		p.logger.Warn(
			"discarding command",
			"line", string(p.buf),
			"err", err)
	} else {
		p.logger.Debug(
			"parsed command",
			"tag", cmd.Tag())
		dst = append(dst, cmd)
	}

	p.Reset()
	return dst
}

func isTagByte(c byte) bool {
	return c == '_' ||
		(c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9')
}

func isPrintable(c byte) bool {
	return c == '\t' || (c >= 0x20 && c < 0x7F)
}

// ParseLine decodes a single line without its terminator.
func ParseLine(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("empty line")
	}

	tag, ok := LookupTag(fields[0])
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTag, "%q", fields[0])
	}

	args := fields[1:]

	switch tag {
	case TagHueStep:
		v, err := parseUintArg(tag, args, 16)
		if err != nil {
			return nil, err
		}
		return HueStepCommand{Step: uint16(v)}, nil

	case TagHueRange:
		v, err := parseUintArg(tag, args, 16)
		if err != nil {
			return nil, err
		}
		return HueRangeCommand{Range: uint16(v)}, nil

	case TagReset:
		if len(args) != 0 {
			return nil, errors.Errorf("%s takes no arguments", tag)
		}
		return ResetCommand{}, nil

	case TagMode:
		if len(args) != 1 {
			return nil, errors.Errorf("%s takes exactly one argument", tag)
		}
		mode, err := ParseMode(args[0])
		if err != nil {
			return nil, err
		}
		return ModeCommand{Mode: mode}, nil

	case TagBrightness:
		v, err := parseUintArg(tag, args, 8)
		if err != nil {
			return nil, err
		}
		return BrightnessCommand{Brightness: uint8(v)}, nil

	default:
		return nil, errors.Wrapf(ErrUnknownTag, "%q", fields[0])
	}
}

func parseUintArg(tag Tag, args []string, bits int) (uint64, error) {
	if len(args) != 1 {
		return 0, errors.Errorf("%s takes exactly one argument", tag)
	}
	v, err := strconv.ParseUint(args[0], 10, bits)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s argument", tag)
	}
	return v, nil
}
