/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for device-specific quirks
 */

package main

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestQuirksPrioritization tests that quirks with the same name,
// defined in the different places, are properly prioritized.
func TestQuirksPrioritization(t *testing.T) {
	type variable struct {
		name, value string
	}

	type section struct {
		name string
		vars []variable
	}

	type expectation struct {
		match       string
		name, value string
	}

	type testData struct {
		sections []section
		expected []expectation
	}

	tests := []testData{
		{
			// More specific match wins
			sections: []section{
				{
					name: "Test Token *",
					vars: []variable{
						{"blacklist", "true"},
					},
				},

				{
					name: "Test Token CCID",
					vars: []variable{
						{"blacklist", "false"},
					},
				},
			},

			expected: []expectation{
				{
					match: "Test Token CCID",
					name:  "blacklist",
					value: "false",
				},
			},
		},

		{
			// More specific match wins.
			// The same as above, reordered
			sections: []section{
				{
					name: "Test Token CCID",
					vars: []variable{
						{"blacklist", "false"},
					},
				},

				{
					name: "Test Token *",
					vars: []variable{
						{"blacklist", "true"},
					},
				},
			},

			expected: []expectation{
				{
					match: "Test Token CCID",
					name:  "blacklist",
					value: "false",
				},
			},
		},

		{
			// Equal match. The last loaded wins.
			sections: []section{
				{
					name: "Test Token *",
					vars: []variable{
						{"blacklist", "true"},
					},
				},

				{
					name: "Test Token *",
					vars: []variable{
						{"blacklist", "false"},
					},
				},
			},

			expected: []expectation{
				{
					match: "Test Token whatever",
					name:  "blacklist",
					value: "false",
				},
			},
		},
	}

	for _, test := range tests {
		// Populate the QuirksDb
		qdb := QuirksDb{}
		loadOrder := 0

		for _, s := range test.sections {
			quirks := newQuirks()

			for _, v := range s.vars {
				q := &Quirk{
					Origin:   "test",
					Match:    s.name,
					Name:     v.name,
					RawValue: v.value,
					LoadOrder: loadOrder,
				}
				loadOrder++

				quirks.put(q)
			}

			qdb.Add(quirks)
		}

		// Test lookups against expectations
		for _, ex := range test.expected {
			quirks := qdb.MatchByModelName(ex.match)

			q := quirks.Get(ex.name)
			if q != nil && q.RawValue == ex.value {
				continue
			}

			// Write error log
			var buf bytes.Buffer
			fmt.Fprintf(&buf, "quirks base:\n")
			for _, s := range test.sections {
				fmt.Fprintf(&buf, "  [%s]\n", s.name)
				for _, v := range s.vars {
					fmt.Fprintf(&buf, "    %s = %s\n",
						v.name, v.value)
				}
			}
			fmt.Fprintf(&buf, "\n")

			fmt.Fprintf(&buf, "quirks query:\n")
			fmt.Fprintf(&buf, "  match:    %s\n", ex.match)
			fmt.Fprintf(&buf, "  quirk:    %s\n", ex.name)
			fmt.Fprintf(&buf, "  expected: %s\n", ex.value)
			present := "nil"
			if q != nil {
				present = q.RawValue
			}
			fmt.Fprintf(&buf, "  present:  %s\n", present)

			t.Errorf("TestQuirksPrioritization failed:\n%s", &buf)
		}
	}
}

// TestQuirksLookup tests lookup of various parameters, both
// defaults and values loaded from testdata/quirks
func TestQuirksLookup(t *testing.T) {
	const path = "testdata/quirks"

	qdb, err := LoadQuirksSet(path)
	if err != nil {
		t.Fatalf("LoadQuirksSet(%q): %s", path, err)
	}

	// Defaults apply to an unrecognized token
	unknown := qdb.MatchByModelName("Unknown Token")
	if unknown.GetBlacklist() != false {
		t.Errorf("GetBlacklist: expected false, got true")
	}
	if unknown.GetForceT0() != false {
		t.Errorf("GetForceT0: expected false, got true")
	}
	if unknown.GetMaxIFSD() != 0 {
		t.Errorf("GetMaxIFSD: expected 0, got %d", unknown.GetMaxIFSD())
	}
	if unknown.GetInitTimeout() != DevInitTimeout {
		t.Errorf("GetInitTimeout: expected %s, got %s",
			DevInitTimeout, unknown.GetInitTimeout())
	}

	// HWID-matched quirks for a known token
	byHWID := qdb.MatchByHWID(0x1050, 0x0407)
	if !byHWID.GetForceT0() {
		t.Errorf("GetForceT0: expected true for 1050:0407")
	}
	if byHWID.GetMaxIFSD() != 254 {
		t.Errorf("GetMaxIFSD: expected 254, got %d", byHWID.GetMaxIFSD())
	}
	if byHWID.GetSerialOverride() != "YK-OVERRIDE" {
		t.Errorf("GetSerialOverride: expected YK-OVERRIDE, got %q",
			byHWID.GetSerialOverride())
	}

	origin := byHWID.Get(QuirkNmForceT0).Origin
	if !strings.HasPrefix(origin, "testdata/quirks/yubikey.conf[1050:0407]:") {
		t.Errorf("unexpected origin: %q", origin)
	}

	// Model-name-matched quirks
	byModel := qdb.MatchByModelName("Yubico YubiKey 5 NFC")
	if !byModel.GetNoAutoVoltage() {
		t.Errorf("GetNoAutoVoltage: expected true for Yubico YubiKey 5 NFC")
	}
}

// TestQuirksParsers tests parsers for quirks
func TestQuirksParsers(t *testing.T) {
	type testData struct {
		parser func(*Quirk) error // Parser to test
		input  string             // Input string
		value  interface{}        // Expected output value
		err    string             // Or expected error
	}

	tests := []testData{
		// parseBool
		{
			parser: (*Quirk).parseBool,
			input:  "true",
			value:  true,
		},

		{
			parser: (*Quirk).parseBool,
			input:  "false",
			value:  false,
		},

		{
			parser: (*Quirk).parseBool,
			input:  "invalid",
			err:    `"invalid": must be true or false`,
		},

		// parseDuration
		{
			parser: (*Quirk).parseDuration,
			input:  "0",
			value:  time.Duration(0),
		},

		{
			parser: (*Quirk).parseDuration,
			input:  "0s",
			value:  time.Duration(0),
		},

		{
			parser: (*Quirk).parseDuration,
			input:  "12345",
			value:  12345 * time.Millisecond,
		},

		{
			parser: (*Quirk).parseDuration,
			input:  "1h2m3s",
			value: time.Hour +
				2*time.Minute +
				3*time.Second,
		},

		{
			parser: (*Quirk).parseDuration,
			input:  "0.5s",
			value:  time.Second / 2,
		},

		{
			parser: (*Quirk).parseDuration,
			input:  "+0s",
			err:    `"+0s": invalid duration`,
		},

		{
			parser: (*Quirk).parseDuration,
			input:  "-0s",
			err:    `"-0s": invalid duration`,
		},

		{
			parser: (*Quirk).parseDuration,
			input:  "hello",
			err:    `"hello": invalid duration`,
		},

		// parseQuirkResetMethod
		{
			parser: (*Quirk).parseQuirkResetMethod,
			input:  "none",
			value:  QuirkResetNone,
		},

		{
			parser: (*Quirk).parseQuirkResetMethod,
			input:  "soft",
			value:  QuirkResetSoft,
		},

		{
			parser: (*Quirk).parseQuirkResetMethod,
			input:  "hard",
			value:  QuirkResetHard,
		},

		{
			parser: (*Quirk).parseQuirkResetMethod,
			input:  "invalid",
			err:    `"invalid": must be none, soft or hard`,
		},

		// parseUint
		{
			parser: (*Quirk).parseUint,
			input:  "0",
			value:  uint(0),
		},

		{
			parser: (*Quirk).parseUint,
			input:  "12345",
			value:  uint(12345),
		},

		{
			parser: (*Quirk).parseUint,
			input:  "hello",
			err:    `"hello": invalid unsigned integer`,
		},
	}

	for _, test := range tests {
		q := Quirk{
			RawValue: test.input,
		}

		err := test.parser(&q)
		errstr := ""
		if err != nil {
			errstr = err.Error()
		}

		if errstr != test.err {
			t.Errorf("error mismatch:\n"+
				"expected: %s\n"+
				"present:  %s",
				test.err, errstr)

			continue
		}

		if q.Parsed != test.value {
			t.Errorf("value mismatch:\n"+
				"expected: %s(%v)\n"+
				"present:  %s(%v)",
				reflect.TypeOf(test.value), test.value,
				reflect.TypeOf(q.Parsed), q.Parsed)
		}
	}
}

// TestQuirksSetLoad tests LoadQuirksSet function.
func TestQuirksSetLoad(t *testing.T) {
	const path = "testdata/quirks"
	const badPath = path + "-not-exist"

	// Try non-existent directory
	_, err := LoadQuirksSet(badPath)
	if err != nil {
		t.Fatalf("LoadQuirksSet(%q): %s", badPath, err)
	}

	// Try test data
	_, err = LoadQuirksSet(path)
	if err != nil {
		t.Fatalf("LoadQuirksSet(%q): %s", path, err)
	}
}
