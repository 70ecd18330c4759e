/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for ATR to CCID parameter block derivation
 */

package main

import "testing"

func TestDeriveParameterBlockSuccess(t *testing.T) {
	atr := []byte{
		0x3B, // TS: direct convention
		0xD0, // T0: Y1=0xD (TA1,TC1,TD1), historical length 0
		0x18, // TA1
		0x00, // TC1
		0x81, // TD1: Y2=0x8, protocol T=1
		0x30, // TD2: Y3=0x3, TA3 and TB3 present
		0xFE, // TA3
		0x00, // TB3
	}

	block, ok := deriveParameterBlock(atr)
	if !ok {
		t.Fatalf("expected derivation to succeed")
	}

	want := []byte{0x18, 0x10, 0x00, 0x00, 0x00, 0xFE, 0x00}
	if len(block) != len(want) {
		t.Fatalf("unexpected block length: %d", len(block))
	}
	for i := range want {
		if block[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, block[i], want[i])
		}
	}
}

func TestDeriveParameterBlockInverseConvention(t *testing.T) {
	atr := []byte{
		0x3F, // TS: inverse convention
		0xD0,
		0x18,
		0x01, // TC1, low bit set
		0x81,
		0x30,
		0xFE,
		0x00,
	}
	block, ok := deriveParameterBlock(atr)
	if !ok {
		t.Fatalf("expected derivation to succeed")
	}
	// tc1&1==1 && !direct(true) -> tcckst1 = 3 | 0x10
	if block[1] != 0x13 {
		t.Errorf("unexpected tcckst1: %#x", block[1])
	}
}

func TestDeriveParameterBlockBadTS(t *testing.T) {
	_, ok := deriveParameterBlock([]byte{0x00, 0xD0, 0x18, 0x00, 0x81, 0x30, 0xFE, 0x00})
	if ok {
		t.Fatalf("expected failure for unknown TS")
	}
}

func TestDeriveParameterBlockNoTA1(t *testing.T) {
	// Y1 = 0x0: no interface bytes at all
	_, ok := deriveParameterBlock([]byte{0x3B, 0x00})
	if ok {
		t.Fatalf("expected failure when TA1 is absent")
	}
}

func TestDeriveParameterBlockAmbiguousY1(t *testing.T) {
	// Y1 = 0x9: TA1 and TD1 present, but no TC1 -- not a usable shape
	atr := []byte{0x3B, 0x90, 0x18, 0x81, 0x30, 0xFE, 0x00}
	_, ok := deriveParameterBlock(atr)
	if ok {
		t.Fatalf("expected failure for Y1=0x9 (no TC1)")
	}
}

func TestDeriveParameterBlockTooShort(t *testing.T) {
	_, ok := deriveParameterBlock([]byte{0x3B})
	if ok {
		t.Fatalf("expected failure for a 1-byte ATR")
	}
}

func TestDeriveParameterBlockTA3Only(t *testing.T) {
	atr := []byte{
		0x3B, 0xD0, 0x18, 0x00, 0x81,
		0x10, // TD2: Y3=0x1, TA3 only
		0xFE, 0x00,
	}
	_, ok := deriveParameterBlock(atr)
	if ok {
		t.Fatalf("expected failure when only TA3 is present")
	}
}

func TestDeriveParameterBlockTB3Only(t *testing.T) {
	atr := []byte{
		0x3B, 0xD0, 0x18, 0x00, 0x81,
		0x20, // TD2: Y3=0x2, TB3 only
		0xFE, 0x00,
	}
	_, ok := deriveParameterBlock(atr)
	if ok {
		t.Fatalf("expected failure when only TB3 is present")
	}
}

func TestDeriveParameterBlockNeitherTA3NorTB3StillReads(t *testing.T) {
	// Y3 = 0x0: neither TA3 nor TB3 declared present, but the
	// reference implementation reads the next two bytes anyway as
	// long as they exist in the ATR
	atr := []byte{
		0x3B, 0xD0, 0x18, 0x00, 0x81,
		0x00, // TD2: Y3=0x0
		0x11, 0x22,
	}
	block, ok := deriveParameterBlock(atr)
	if !ok {
		t.Fatalf("expected derivation to succeed despite Y3=0")
	}
	if block[5] != 0x11 || block[3] != 0x22 {
		t.Errorf("unexpected TA3/TB3 bytes: ta3=%#x tb3=%#x", block[5], block[3])
	}
}
