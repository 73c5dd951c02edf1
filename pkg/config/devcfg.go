package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode"
)

// Device configuration keys understood by the emulator.
const (
	KeyOpLog      = "DEBUG_FUNC_OPLOG"
	KeyDataAccess = "DEBUG_FUNC_DATA_ACCESS"
)

// DeviceConfig holds the KEY VALUE pairs of a device configuration file.
type DeviceConfig map[string]string

// LoadDeviceConfig reads the device configuration file at path.
func LoadDeviceConfig(path string) (DeviceConfig, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return ParseDeviceConfig(fh)
}

// ParseDeviceConfig parses one KEY VALUE pair per line. Values may be
// double quoted, everything after an unquoted '#' is ignored.
func ParseDeviceConfig(r io.Reader) (DeviceConfig, error) {
	dc := DeviceConfig{}
	s := bufio.NewScanner(r)
	lineno := 0
	for s.Scan() {
		lineno++
		fields := SplitQuotedFields(s.Text(), '"')
		switch len(fields) {
		case 0:
			continue
		case 2:
			dc[fields[0]] = fields[1]
		default:
			return nil, fmt.Errorf("device config line %d: expected KEY VALUE, got %d fields", lineno, len(fields))
		}
	}
	return dc, s.Err()
}

// Lookup returns the value of key, if present.
func (dc DeviceConfig) Lookup(key string) (string, bool) {
	v, ok := dc[key]
	return v, ok
}

// Uint returns the value of key parsed as an unsigned integer, accepting
// the 0x prefix.
func (dc DeviceConfig) Uint(key string) (uint64, bool, error) {
	v, ok := dc[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %v", key, err)
	}
	return n, true, nil
}

// SplitQuotedFields is like strings.Fields but ignores spaces inside areas
// surrounded by the specified quote character. Inside quotes a backslash
// escapes the next character. An unquoted '#' ends the line.
func SplitQuotedFields(in string, quote rune) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf bytes.Buffer
	quoted := false

	flush := func() {
		if buf.Len() != 0 || quoted {
			r = append(r, buf.String())
		}
		buf.Reset()
		quoted = false
	}

loop:
	for _, ch := range in {
		switch state {
		case inSpace, inField:
			switch {
			case ch == quote:
				state = inQuote
				quoted = true
			case ch == '#':
				break loop
			case unicode.IsSpace(ch):
				if state == inField {
					flush()
				}
				state = inSpace
			default:
				buf.WriteRune(ch)
				state = inField
			}

		case inQuote:
			if ch == quote {
				state = inField
			} else if ch == '\\' {
				state = inQuoteEscaped
			} else {
				buf.WriteRune(ch)
			}

		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}
	flush()
	return r
}
