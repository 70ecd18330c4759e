/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for virtual device descriptor assembly
 */

package main

import "testing"

func TestBuildDeviceDescriptor(t *testing.T) {
	b := BuildDeviceDescriptor()
	if len(b) != 18 {
		t.Fatalf("unexpected device descriptor length: %d", len(b))
	}
	if b[0] != 18 || b[1] != descTypeDevice {
		t.Errorf("unexpected length/type bytes")
	}
	vid := uint16(b[8]) | uint16(b[9])<<8
	pid := uint16(b[10]) | uint16(b[11])<<8
	if vid != relayVendorID || pid != relayProductID {
		t.Errorf("unexpected VID/PID: %#x/%#x", vid, pid)
	}
}

func TestBuildConfigurationDescriptorShape(t *testing.T) {
	b := BuildConfigurationDescriptor(nil, 0x4000, 0x4000, 0x4b000, 0x4b000)

	if b[0] != 9 || b[1] != descTypeConfiguration {
		t.Fatalf("unexpected configuration header")
	}
	totalLength := uint16(b[2]) | uint16(b[3])<<8
	if int(totalLength) != len(b) {
		t.Errorf("wTotalLength %d does not match actual length %d", totalLength, len(b))
	}
	if b[4] != 3 {
		t.Errorf("expected 3 interfaces, got %d", b[4])
	}

	// Interface 0 begins right after the 9-byte configuration header
	off := 9
	if b[off+1] != descTypeInterface || b[off+2] != ifaceFIDO || b[off+5] != 0x03 {
		t.Errorf("interface 0 is not the expected FIDO shape")
	}
}

func TestCCIDDescriptorApplyQuirksNoAutoVoltage(t *testing.T) {
	d := CCIDDescriptor{}
	d.SetDefaults()
	before := d.Features

	quirks := newQuirks()
	quirks.put(&Quirk{Name: QuirkNmNoAutoVoltage, Parsed: true})
	d.ApplyQuirks(quirks)

	if d.Features != before&^featureAutoVoltage {
		t.Errorf("expected auto-voltage bit cleared, got %#x", d.Features)
	}
	if d.Features&featureAutoVoltage != 0 {
		t.Errorf("auto-voltage bit still set: %#x", d.Features)
	}
}

func TestEffectiveSerialNumberDefault(t *testing.T) {
	if s := EffectiveSerialNumber(nil); s != relaySerialFormat {
		t.Errorf("expected default serial %q, got %q", relaySerialFormat, s)
	}
}

func TestEffectiveSerialNumberOverride(t *testing.T) {
	quirks := newQuirks()
	quirks.put(&Quirk{Name: QuirkNmSerialOverride, Parsed: "CUSTOM-SERIAL"})
	if s := EffectiveSerialNumber(quirks); s != "CUSTOM-SERIAL" {
		t.Errorf("expected override serial, got %q", s)
	}
}

func TestBuildStringDescriptors(t *testing.T) {
	table := BuildStringDescriptors(nil)
	if len(table) != strIdxSerialNumber+1 {
		t.Fatalf("unexpected string descriptor table size: %d", len(table))
	}
	if table[0][1] != descTypeString {
		t.Errorf("langid descriptor has wrong type byte")
	}
	if table[strIdxManufacturer][0] != byte(len(table[strIdxManufacturer])) {
		t.Errorf("manufacturer descriptor length byte mismatch")
	}
}

func TestCCIDDescriptorClockWindow(t *testing.T) {
	d := CCIDDescriptor{}
	d.SetDefaults()
	d.SetClocksAndRates(0x1111, 0x2222, 0x3333, 0x4444)
	b := d.Bytes()
	if len(b) != ccidDescriptorLength {
		t.Fatalf("unexpected CCID descriptor length: %d", len(b))
	}
	// offsets [10:18) = DefaultClock(4) + MaximumClock(4)
	defaultClock := leUint32(b[10:14])
	maximumClock := leUint32(b[14:18])
	if defaultClock != 0x1111 || maximumClock != 0x2222 {
		t.Errorf("clock window mismatch: %#x/%#x", defaultClock, maximumClock)
	}
}
