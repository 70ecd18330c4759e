/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for run mode parsing
 */

package main

import (
	"testing"
)

// Test RunMode.String
func TestRunModeString(t *testing.T) {
	testData := []struct {
		mode RunMode
		str  string
	}{
		{RunDefault, "default"},
		{RunStandalone, "standalone"},
		{RunDebug, "debug"},
		{RunCheck, "check"},
		{RunStatus, "status"},
		{RunMode(99), "unknown (99)"},
	}

	for _, data := range testData {
		s := data.mode.String()
		if s != data.str {
			t.Errorf("RunMode(%d).String(): expected %q got %q",
				int(data.mode), data.str, s)
		}
	}
}
