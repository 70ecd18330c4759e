//go:build linux || freebsd

/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for network interface index discovery
 */

package main

import (
	"testing"

	"github.com/holoplot/go-avahi"
)

// Test InetInterface resolves "all" to avahi's wildcard interface index
func TestInetInterfaceAll(t *testing.T) {
	idx, err := InetInterface("all")
	if err != nil {
		t.Fatalf("InetInterface(\"all\"): unexpected error: %s", err)
	}
	if idx != avahi.InterfaceUnspec {
		t.Errorf("InetInterface(\"all\"): expected %d, got %d", avahi.InterfaceUnspec, idx)
	}

	idx, err = InetInterface("")
	if err != nil {
		t.Fatalf("InetInterface(\"\"): unexpected error: %s", err)
	}
	if idx != avahi.InterfaceUnspec {
		t.Errorf("InetInterface(\"\"): expected %d, got %d", avahi.InterfaceUnspec, idx)
	}
}

// Test InetInterface resolves "lo" to a real loopback interface index
func TestInetInterfaceLoopback(t *testing.T) {
	idx, err := InetInterface("lo")
	if err != nil {
		t.Fatalf("InetInterface(\"lo\"): unexpected error: %s", err)
	}
	if idx <= 0 {
		t.Errorf("InetInterface(\"lo\"): expected a positive interface index, got %d", idx)
	}
}

// Test InetInterface rejects a nonexistent interface name
func TestInetInterfaceNotFound(t *testing.T) {
	_, err := InetInterface("no-such-interface-xyz")
	if err == nil {
		t.Errorf("InetInterface: expected error for a nonexistent interface")
	}
}

// Test Loopback finds a loopback interface
func TestLoopback(t *testing.T) {
	idx, err := Loopback()
	if err != nil {
		t.Fatalf("Loopback: unexpected error: %s", err)
	}
	if idx <= 0 {
		t.Errorf("Loopback: expected a positive interface index, got %d", idx)
	}
}
