/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for the FIDO interrupt forwarder's control handling, built
 * directly against the struct literal since a live HID handle is not
 * available under test
 */

package main

import "testing"

// Test FIDOForwarder.HandleControl accepts SetIdle as a no-op
func TestFIDOHandleControlSetIdle(t *testing.T) {
	f := &FIDOForwarder{}

	setup := setupPacket{Request: 0x0A}
	data, err := f.HandleControl(setup, 0)
	if err != nil {
		t.Fatalf("HandleControl(SetIdle): unexpected error: %s", err)
	}
	if data != nil {
		t.Errorf("HandleControl(SetIdle): expected nil data, got %v", data)
	}
}

// Test FIDOForwarder.HandleControl rejects unrecognized requests
func TestFIDOHandleControlUnsupported(t *testing.T) {
	f := &FIDOForwarder{}

	setup := setupPacket{RequestType: 0x80, Request: 0xFE}
	_, err := f.HandleControl(setup, 64)
	if err != ErrUnsupported {
		t.Errorf("HandleControl: expected ErrUnsupported, got %v", err)
	}
}

// Test FIDOForwarder.ClassDescriptor returns the fixed 9-byte HID
// class descriptor
func TestFIDOClassDescriptor(t *testing.T) {
	classDesc := []byte{9, hidDescriptorType, 0x11, 0x01, 0x00, 0x01, hidReportDescType, 0, 0}
	f := &FIDOForwarder{classDesc: classDesc}

	got := f.ClassDescriptor()
	if len(got) != 9 || got[0] != 9 || got[1] != hidDescriptorType {
		t.Errorf("ClassDescriptor: unexpected bytes %v", got)
	}
}
