/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for the device-level control multiplexer
 */

package main

import "testing"

func TestVirtualDeviceHandleControlStringDescriptor(t *testing.T) {
	v := &VirtualDevice{stringDesc: BuildStringDescriptors(nil)}

	setup := setupPacket{
		RequestType: 0x80, // IN | standard | device
		Request:     usbReqGetDescriptorStd,
		Value:       uint16(descTypeString)<<8 | strIdxSerialNumber,
	}

	data, handled := v.HandleControl(setup, 256, nil)
	if !handled {
		t.Fatalf("expected string descriptor request to be handled")
	}
	if data[1] != descTypeString {
		t.Errorf("unexpected descriptor type byte: %#x", data[1])
	}
	if data[0] != byte(len(data)) {
		t.Errorf("length byte mismatch: %d vs %d", data[0], len(data))
	}
}

func TestVirtualDeviceHandleControlStringDescriptorOutOfRange(t *testing.T) {
	v := &VirtualDevice{stringDesc: BuildStringDescriptors(nil)}

	setup := setupPacket{
		RequestType: 0x80,
		Request:     usbReqGetDescriptorStd,
		Value:       uint16(descTypeString)<<8 | 0xFF,
	}

	_, handled := v.HandleControl(setup, 256, nil)
	if handled {
		t.Errorf("expected out-of-range string index to be unhandled")
	}
}
