package move

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Command is the message written to the controller for one firing.
type Command struct {
	Direction Direction `json:"direction"`
	Steps     int       `json:"steps"`
}

func (e Entry) Command() Command { return Command{Direction: e.Direction, Steps: e.Steps} }

// Encode renders the wire form: one JSON object followed by '\n'.
//
// The layout matches what existing controller firmware receives:
//
//	{"direction": "clockwise", "steps": 1000}\n
func (c Command) Encode() ([]byte, error) {
	if !c.Direction.Valid() {
		return nil, fmt.Errorf("encode command: unknown direction %q", c.Direction)
	}
	dir, err := json.Marshal(string(c.Direction))
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	b := make([]byte, 0, 48)
	b = append(b, `{"direction": `...)
	b = append(b, dir...)
	b = append(b, `, "steps": `...)
	b = strconv.AppendInt(b, int64(c.Steps), 10)
	b = append(b, "}\n"...)
	return b, nil
}

// DecodeCommand parses one wire line (trailing newline optional). Used by the
// fake device in tests and by tooling that replays journals.
func DecodeCommand(line []byte) (Command, error) {
	var c Command
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimRight(line, "\r\n")))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if !c.Direction.Valid() {
		return Command{}, fmt.Errorf("decode command: unknown direction %q", c.Direction)
	}
	return c, nil
}
