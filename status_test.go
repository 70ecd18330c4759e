/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for device status tracking
 */

package main

import (
	"bytes"
	"testing"
)

// resetStatus clears global status state around a test
func resetStatus(t *testing.T) {
	StatusDel()
	t.Cleanup(func() { StatusDel() })
}

// Test StatusFormat before any device has been recorded
func TestStatusFormatEmpty(t *testing.T) {
	resetStatus(t)

	text := StatusFormat()
	if !bytes.Contains(text, []byte("device: not found")) {
		t.Errorf("StatusFormat: expected \"device: not found\", got %q", text)
	}
}

// Test StatusSet/StatusSetAttached/StatusFormat round-trip
func TestStatusSetAndFormat(t *testing.T) {
	resetStatus(t)

	addr := UsbAddr{Bus: 1, Address: 5}
	info := UsbDeviceInfo{
		Vendor:       relayVendorID,
		Product:      relayProductID,
		Manufacturer: "canokeys.org",
		ProductName:  "Canokey Relay Card",
		SerialNumber: "ABCD1234",
	}

	StatusSet(addr, info, "Canokey Relay Card 00 00", nil)
	StatusSetAttached(true)

	text := StatusFormat()

	for _, want := range []string{
		"ABCD1234",
		"Canokey Relay Card 00 00",
		"usbip client attached: yes",
		"status:         OK",
	} {
		if !bytes.Contains(text, []byte(want)) {
			t.Errorf("StatusFormat: expected to find %q in:\n%s", want, text)
		}
	}
}

// Test StatusSet records an init error and StatusFormat surfaces it
func TestStatusSetError(t *testing.T) {
	resetStatus(t)

	StatusSet(UsbAddr{}, UsbDeviceInfo{}, "", ErrNoReader)

	text := StatusFormat()
	if !bytes.Contains(text, []byte(ErrNoReader.Error())) {
		t.Errorf("StatusFormat: expected init error %q in:\n%s", ErrNoReader, text)
	}
}

// Test StatusDel clears a previously-recorded device
func TestStatusDel(t *testing.T) {
	resetStatus(t)

	StatusSet(UsbAddr{}, UsbDeviceInfo{}, "", nil)
	StatusDel()

	text := StatusFormat()
	if !bytes.Contains(text, []byte("device: not found")) {
		t.Errorf("StatusFormat: expected \"device: not found\" after StatusDel, got %q", text)
	}
}

// Test StatusSetAttached is a no-op when no device is recorded
func TestStatusSetAttachedNoDevice(t *testing.T) {
	resetStatus(t)

	StatusSetAttached(true) // must not panic
}
