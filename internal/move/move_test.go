package move

import (
	"errors"
	"testing"
)

func TestParseValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		time  string
		dir   string
		steps string
		want  Entry
	}{
		{name: "midnight", time: "00:00", dir: "clockwise", steps: "1", want: Entry{TimeOfDay: "00:00", Direction: Clockwise, Steps: 1}},
		{name: "last minute", time: "23:59", dir: "counterclockwise", steps: "1000", want: Entry{TimeOfDay: "23:59", Direction: CounterClockwise, Steps: 1000}},
		{name: "shorthand", time: "13:30", dir: "CCW", steps: " 42 ", want: Entry{TimeOfDay: "13:30", Direction: CounterClockwise, Steps: 42}},
		{name: "padded time", time: " 07:05 ", dir: "cw", steps: "7", want: Entry{TimeOfDay: "07:05", Direction: Clockwise, Steps: 7}},
		{name: "explicit plus sign", time: "08:00", dir: "cw", steps: "+5", want: Entry{TimeOfDay: "08:00", Direction: Clockwise, Steps: 5}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.time, tt.dir, tt.steps)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Parse = %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("Validate error: %v", err)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		time  string
		dir   string
		steps string
		field string
	}{
		{name: "hour out of range", time: "25:61", dir: "cw", steps: "1", field: "time"},
		{name: "wrong separator", time: "13-30", dir: "cw", steps: "1", field: "time"},
		{name: "empty time", time: "", dir: "cw", steps: "1", field: "time"},
		{name: "single digit hour", time: "9:30", dir: "cw", steps: "1", field: "time"},
		{name: "seconds", time: "09:30:00", dir: "cw", steps: "1", field: "time"},
		{name: "hour 24", time: "24:00", dir: "cw", steps: "1", field: "time"},
		{name: "bad direction", time: "09:30", dir: "left", steps: "1", field: "direction"},
		{name: "zero steps", time: "09:30", dir: "cw", steps: "0", field: "steps"},
		{name: "negative steps", time: "09:30", dir: "cw", steps: "-5", field: "steps"},
		{name: "float steps", time: "09:30", dir: "cw", steps: "1.5", field: "steps"},
		{name: "text steps", time: "09:30", dir: "cw", steps: "many", field: "steps"},
		{name: "empty steps", time: "09:30", dir: "cw", steps: "", field: "steps"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.time, tt.dir, tt.steps)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("error %v does not match ErrInvalid", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error %T is not a *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestEntryClockAndString(t *testing.T) {
	t.Parallel()
	e := Entry{TimeOfDay: "08:15", Direction: Clockwise, Steps: 200}
	h, m := e.Clock()
	if h != 8 || m != 15 {
		t.Fatalf("Clock = %d:%d, want 8:15", h, m)
	}
	if got, want := e.String(), "Time: 08:15, Direction: clockwise, Steps: 200"; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
}

func TestCommandWireFormat(t *testing.T) {
	t.Parallel()
	b, err := Command{Direction: Clockwise, Steps: 1000}.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if got, want := string(b), "{\"direction\": \"clockwise\", \"steps\": 1000}\n"; got != want {
		t.Fatalf("Encode = %q, want %q", got, want)
	}
	if _, err := (Command{Direction: "up", Steps: 1}).Encode(); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	t.Parallel()
	for _, e := range []Entry{
		{TimeOfDay: "01:00", Direction: Clockwise, Steps: 1},
		{TimeOfDay: "12:00", Direction: CounterClockwise, Steps: 123456},
	} {
		b, err := e.Command().Encode()
		if err != nil {
			t.Fatalf("Encode error: %v", err)
		}
		got, err := DecodeCommand(b)
		if err != nil {
			t.Fatalf("DecodeCommand error: %v", err)
		}
		if got != e.Command() {
			t.Fatalf("round trip = %+v, want %+v", got, e.Command())
		}
	}
}

func TestDecodeCommandRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, line := range []string{"", "not json\n", `{"direction":"up","steps":1}`, `{"direction":"clockwise","steps":1,"speed":3}`} {
		if _, err := DecodeCommand([]byte(line)); err == nil {
			t.Fatalf("DecodeCommand(%q) expected error", line)
		}
	}
}
