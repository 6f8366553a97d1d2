// Package command implements the line-based control protocol accepted over
// the network.
package command

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Tag identifies a command.
type Tag uint8

const (
	TagHueStep Tag = iota
	TagHueRange
	TagReset
	TagMode
	TagBrightness
)

var tagNames = [...]string{
	TagHueStep:    "HUE_STEP",
	TagHueRange:   "HUE_RANGE",
	TagReset:      "RESET",
	TagMode:       "MODE",
	TagBrightness: "BRIGHTNESS",
}

// String returns the wire name of the tag.
func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", t)
}

// LookupTag returns the tag with the given wire name. Names are case
// insensitive.
func LookupTag(name string) (Tag, bool) {
	name = strings.ToUpper(name)
	for t, n := range tagNames {
		if n == name {
			return Tag(t), true
		}
	}
	return 0, false
}

// Command is a decoded control instruction.
type Command interface {
	// Tag returns the tag of the command.
	Tag() Tag
}

// HueStepCommand sets how far the phase advances per frame.
type HueStepCommand struct {
	Step uint16
}

// HueRangeCommand sets the spread of the radial offset.
type HueRangeCommand struct {
	Range uint16
}

// ResetCommand restores the default parameters and rewinds the phase.
type ResetCommand struct{}

// ModeCommand selects the animation mode.
type ModeCommand struct {
	Mode Mode
}

// BrightnessCommand sets the value channel used for every pixel.
type BrightnessCommand struct {
	Brightness uint8
}

func (c HueStepCommand) Tag() Tag    { return TagHueStep }
func (c HueRangeCommand) Tag() Tag   { return TagHueRange }
func (c ResetCommand) Tag() Tag      { return TagReset }
func (c ModeCommand) Tag() Tag       { return TagMode }
func (c BrightnessCommand) Tag() Tag { return TagBrightness }

// Mode is an animation mode.
type Mode string

const (
	// ModeRadial spreads the hue outwards from the reference corner.
	ModeRadial Mode = "radial"
	// ModeSolid paints the whole panel with the current phase.
	ModeSolid Mode = "solid"
	// ModeSweep spreads the hue linearly across the panel width.
	ModeSweep Mode = "sweep"
)

// ParseMode parses a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeRadial, ModeSolid, ModeSweep:
		return m, nil
	default:
		return "", errors.Errorf("unknown mode %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
