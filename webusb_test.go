/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for the control setup packet helpers and the WebUSB
 * forwarder's pure control paths
 */

package main

import "testing"

// Test setupIsIn/setupControlType/setupRecipient decode the
// bmRequestType byte's three bit fields
func TestSetupBitFields(t *testing.T) {
	s := setupPacket{RequestType: 0xC1} // IN | vendor | interface

	if !setupIsIn(s) {
		t.Errorf("setupIsIn: expected true for RequestType %#02x", s.RequestType)
	}
	if setupControlType(s) != reqTypeVendor {
		t.Errorf("setupControlType: expected %#02x, got %#02x", reqTypeVendor, setupControlType(s))
	}
	if setupRecipient(s) != reqRecipientInterface {
		t.Errorf("setupRecipient: expected %#02x, got %#02x", reqRecipientInterface, setupRecipient(s))
	}

	s2 := setupPacket{RequestType: 0x00} // OUT | standard | device
	if setupIsIn(s2) {
		t.Errorf("setupIsIn: expected false for RequestType %#02x", s2.RequestType)
	}
	if setupRecipient(s2) != reqRecipientDevice {
		t.Errorf("setupRecipient: expected %#02x, got %#02x", reqRecipientDevice, setupRecipient(s2))
	}
}

// Test WebUSBForwarder.HandleInterfaceControl answers GET_STATUS
// without touching the physical device
func TestWebUSBHandleInterfaceControlGetStatus(t *testing.T) {
	w := &WebUSBForwarder{}

	setup := setupPacket{RequestType: 0x81, Request: usbReqGetStatus} // IN | standard | interface
	data, err := w.HandleInterfaceControl(setup, 2, nil, nil)
	if err != nil {
		t.Fatalf("HandleInterfaceControl(GetStatus): unexpected error: %s", err)
	}
	if len(data) != 2 || data[0] != 0 || data[1] != 0 {
		t.Errorf("HandleInterfaceControl(GetStatus): expected {0,0}, got %v", data)
	}
}
