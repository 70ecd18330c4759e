/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for device composition
 */

package main

import (
	"testing"
)

// Test parseCCIDClocksFromConfig against a synthetic configuration
// descriptor carrying a single CCID class descriptor
func TestParseCCIDClocksFromConfig(t *testing.T) {
	ccid := make([]byte, 54)
	ccid[0] = 54
	ccid[1] = descTypeCCID
	putUint32(ccid, 10, 4000000)  // DefaultClock
	putUint32(ccid, 14, 16000000) // MaximumClock
	putUint32(ccid, 19, 9600)     // DataRate
	putUint32(ccid, 23, 500000)   // MaxDataRate

	iface := make([]byte, 9)
	iface[0] = 9
	iface[1] = 0x04 // interface descriptor

	full := append(append([]byte{}, iface...), ccid...)

	defaultClock, maxClock, dataRate, maxDataRate, err := parseCCIDClocksFromConfig(full)
	if err != nil {
		t.Fatalf("parseCCIDClocksFromConfig: unexpected error: %s", err)
	}

	if defaultClock != 4000000 || maxClock != 16000000 ||
		dataRate != 9600 || maxDataRate != 500000 {
		t.Errorf("parseCCIDClocksFromConfig: got %d/%d/%d/%d",
			defaultClock, maxClock, dataRate, maxDataRate)
	}
}

// Test parseCCIDClocksFromConfig reports an error when no CCID class
// descriptor is present
func TestParseCCIDClocksFromConfigMissing(t *testing.T) {
	iface := make([]byte, 9)
	iface[0] = 9
	iface[1] = 0x04

	_, _, _, _, err := parseCCIDClocksFromConfig(iface)
	if err == nil {
		t.Errorf("parseCCIDClocksFromConfig: expected error, got nil")
	}
}

// Test parseCCIDClocksFromConfig doesn't run away on a malformed
// (zero-length) descriptor record
func TestParseCCIDClocksFromConfigMalformed(t *testing.T) {
	full := []byte{0, 0, 0, 0}
	_, _, _, _, err := parseCCIDClocksFromConfig(full)
	if err == nil {
		t.Errorf("parseCCIDClocksFromConfig: expected error, got nil")
	}
}

// lookupTxt finds a TXT record value by key
func lookupTxt(svc DNSSdSvcInfo, key string) (string, bool) {
	for _, item := range svc.Txt {
		if item.Key == key {
			return item.Value, true
		}
	}
	return "", false
}

// putUint32 writes v as little-endian into buf at offset off
func putUint32(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

// Test Device.dnssdServices assembles the expected TXT records
func TestDeviceDnssdServices(t *testing.T) {
	saved := Conf
	defer func() { Conf = saved }()

	Conf.DNSSdServiceType = "_usbip._tcp"

	dev := &Device{
		Info: UsbDeviceInfo{
			Vendor:       relayVendorID,
			Product:      relayProductID,
			SerialNumber: "1234",
		},
		ReaderName: "Canokey Relay Card 00 00",
	}

	services := dev.dnssdServices()
	if len(services) != 1 {
		t.Fatalf("dnssdServices: expected 1 service, got %d", len(services))
	}

	svc := services[0]
	if svc.Type != "_usbip._tcp" || svc.Port != USBIPPort {
		t.Errorf("dnssdServices: unexpected Type/Port: %+v", svc)
	}

	want := map[string]string{
		"busid":   relayBusID,
		"vendor":  "20a0",
		"product": "42d4",
		"serial":  "1234",
		"reader":  "Canokey Relay Card 00 00",
	}

	for key, val := range want {
		got, ok := lookupTxt(svc, key)
		if !ok || got != val {
			t.Errorf("dnssdServices: TXT[%s] = %q,%v, want %q", key, got, ok, val)
		}
	}
}
