/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for the CCID bulk message framing codec
 */

package main

import (
	"bytes"
	"testing"
)

// TestDecodeCommandShortFrame verifies that a frame shorter than the
// common header is reported as BadCommand
func TestDecodeCommandShortFrame(t *testing.T) {
	_, err := DecodeCommand([]byte{0x62, 0x00, 0x00})
	if err == nil || !err.BadCommand {
		t.Fatalf("expected BadCommand, got %v", err)
	}
}

// TestDecodeCommandUnknownType verifies S6: unknown message_type
func TestDecodeCommandUnknownType(t *testing.T) {
	frame := []byte{0x77, 0, 0, 0, 0, 0x00, 0x06, 0, 0, 0}
	_, err := DecodeCommand(frame)
	if err == nil || err.BadCommand {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if err.Status != slotICCActiveFailure || err.SlotError != errUnsupportedCommand {
		t.Errorf("unexpected status/error: %#x/%#x", err.Status, err.SlotError)
	}
}

// TestDecodeCommandNonZeroSlot verifies S5's decode-side shape: the
// bridge itself rejects non-zero slots, not the decoder, so decode
// must succeed here and the slot number must round-trip
func TestDecodeCommandNonZeroSlot(t *testing.T) {
	frame := []byte{0x65, 0, 0, 0, 0, 0x01, 0x05, 0, 0, 0}
	cmd, err := DecodeCommand(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Header.Slot != 1 {
		t.Errorf("expected slot 1, got %d", cmd.Header.Slot)
	}
}

// TestDecodeCommandPowerOn verifies S1/S2 decode shape
func TestDecodeCommandPowerOn(t *testing.T) {
	frame := []byte{0x62, 0, 0, 0, 0, 0x00, 0x01, 0, 0, 0}
	cmd, err := DecodeCommand(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Header.MessageType != ccidPCtoRDR_IccPowerOn {
		t.Errorf("unexpected message type")
	}
	if cmd.PowerSelect != iccVoltageAuto {
		t.Errorf("expected auto voltage, got %#x", cmd.PowerSelect)
	}
}

// TestDecodeCommandXfrBlock verifies S3's decode shape: a SELECT
// APDU carrying a 5-byte AID
func TestDecodeCommandXfrBlock(t *testing.T) {
	apdu := []byte{0x00, 0xA4, 0x04, 0x00, 0x05, 0xF0, 0x00, 0x00, 0x00, 0x00}
	frame := append([]byte{0x6F, 0x0A, 0x00, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00}, apdu...)
	cmd, err := DecodeCommand(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(cmd.Data, apdu) {
		t.Errorf("APDU mismatch: got %x", cmd.Data)
	}
}

// TestDecodeCommandTrailingBytes verifies rule 6 of §4.1: trailing
// bytes beyond the declared payload are rejected
func TestDecodeCommandTrailingBytes(t *testing.T) {
	frame := []byte{0x65, 0, 0, 0, 0, 0x00, 0x01, 0, 0, 0, 0xFF}
	_, err := DecodeCommand(frame)
	if err == nil || err.BadCommand {
		t.Fatalf("expected trailing-bytes CommandError, got %v", err)
	}
	if err.SlotError != errInvalidParameter(1) {
		t.Errorf("expected InvalidParameter(1), got %#x", err.SlotError)
	}
}

// TestResponseRoundTrip checks P1/P2: encoding a response yields a
// header length matching the trailing payload, and a response built
// for a given command type always encodes to the right shape
func TestResponseRoundTrip(t *testing.T) {
	h := CCIDHeader{MessageType: ccidPCtoRDR_XfrBlock, Slot: 0, Seq: 3}
	resp := NewResponse(h)
	resp.Append([]byte{0x90, 0x00})

	encoded := resp.Encode()

	// header(10: type, length, slot, seq, status, error, chain) + data(2)
	if len(encoded) != 12 {
		t.Fatalf("unexpected encoded length: %d", len(encoded))
	}
	if encoded[0] != ccidRDRtoPC_DataBlock {
		t.Errorf("expected DataBlock response type, got %#x", encoded[0])
	}
	length := leUint32(encoded[1:5])
	if length != 2 {
		t.Errorf("expected length=2, got %d", length)
	}
}

// TestResponseUnsupportedCommandCollapse verifies that Failure+
// UnsupportedCommand always collapses to the single-byte
// UnsupportedCommand shape, regardless of the originating command
// type, and that the originating command's type byte is echoed back
// rather than zeroed
func TestResponseUnsupportedCommandCollapse(t *testing.T) {
	h := CCIDHeader{MessageType: ccidPCtoRDR_Escape, Slot: 0, Seq: 1}
	resp := NewResponseWithStatus(h, slotICCActiveFailure, errUnsupportedCommand)
	encoded := resp.Encode()
	if len(encoded) != ccidHeaderSize {
		t.Fatalf("unexpected encoded length: %d", len(encoded))
	}
	if encoded[0] != ccidPCtoRDR_Escape {
		t.Errorf("expected echoed message type %#x, got %#x", ccidPCtoRDR_Escape, encoded[0])
	}
	if encoded[len(encoded)-1] != 0x00 {
		t.Errorf("expected trailing 0x00, got %#x", encoded[len(encoded)-1])
	}
}

// TestResponsePowerOffShape verifies the PowerOff response override
// from §4.3: ICCInactiveSuccess + UnsupportedCommand, clock Running
func TestResponsePowerOffShape(t *testing.T) {
	h := CCIDHeader{MessageType: ccidPCtoRDR_IccPowerOff, Slot: 0, Seq: 2}
	resp := NewResponseWithStatus(h, slotICCInactiveSuccess, errUnsupportedCommand)
	if resp.Header.MessageType != ccidRDRtoPC_SlotStatus {
		t.Errorf("expected SlotStatus shape despite UnsupportedCommand error, got %#x",
			resp.Header.MessageType)
	}
	if resp.ClockStatus != iccClockRunning {
		t.Errorf("expected clock Running")
	}
}
