// Package bench implements the device side of the EEMBC/MLPerf Tiny line
// protocol: commands arrive terminated by '%', replies are "m-" and "e-"
// prefixed lines terminated by CRLF.
package bench

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Terminator ends every command.
	Terminator = '%'

	// MaxCommandLen bounds a command; longer input is discarded.
	MaxCommandLen = 80

	// MaxInputSize bounds "db load".
	MaxInputSize = 96 * 96 * 3
)

var (
	ErrUnknownCommand = errors.New("bench: unknown command")
	ErrBadArgument    = errors.New("bench: bad argument")
	ErrCommandTooLong = errors.New("bench: command too long")
)

// Command is one parsed request.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a raw command (without the terminator) into name and
// whitespace separated arguments.
func ParseCommand(raw string) (Command, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty", ErrUnknownCommand)
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}

// IntArg returns argument i as a non-negative integer, or def when absent.
func (c Command) IntArg(i, def int) (int, error) {
	if i >= len(c.Args) {
		return def, nil
	}
	n, err := strconv.Atoi(c.Args[i])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s argument %d %q", ErrBadArgument, c.Name, i+1, c.Args[i])
	}
	return n, nil
}

// Accumulator collects bytes into commands.
type Accumulator struct {
	buf      []byte
	overflow bool
}

// Feed adds one byte. It returns a complete command when b is the
// terminator. Carriage returns and newlines are ignored.
func (a *Accumulator) Feed(b byte) (raw string, done bool, err error) {
	switch b {
	case '\r', '\n':
		return "", false, nil
	case Terminator:
		raw = string(a.buf)
		overflow := a.overflow
		a.buf = a.buf[:0]
		a.overflow = false
		if overflow {
			return "", true, ErrCommandTooLong
		}
		return raw, true, nil
	}
	if len(a.buf) >= MaxCommandLen {
		a.overflow = true
		return "", false, nil
	}
	a.buf = append(a.buf, b)
	return "", false, nil
}

// Message formats an informational reply.
func Message(format string, args ...any) string {
	return "m-" + fmt.Sprintf(format, args...) + "\r\n"
}

// ErrorMessage formats an error reply.
func ErrorMessage(format string, args ...any) string {
	return "e-[" + fmt.Sprintf(format, args...) + "]\r\n"
}

// FormatResults renders scores as m-results-[v1,v2,...] in tensor order.
func FormatResults(values []float32) string {
	var b strings.Builder
	b.WriteString("m-results-[")
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%f", v)
	}
	b.WriteString("]\r\n")
	return b.String()
}

// FormatLap renders a timestamp in microseconds.
func FormatLap(us int64) string {
	return fmt.Sprintf("m-lap-us-%d\r\n", us)
}

// Ready is sent after every command.
const Ready = "m-ready\r\n"
