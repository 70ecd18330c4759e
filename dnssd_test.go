/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for the DNS-SD TXT record helpers
 */

package main

import (
	"testing"
)

// Test DNSSdTxtRecord.Add/IfNotEmpty/export
func TestDNSSdTxtRecord(t *testing.T) {
	var txt DNSSdTxtRecord

	txt.Add("busid", "1-1")

	added := txt.IfNotEmpty("serial", "")
	if added {
		t.Errorf("IfNotEmpty: expected no item added for an empty value")
	}

	added = txt.IfNotEmpty("reader", "Canokey Relay Card 00 00")
	if !added {
		t.Errorf("IfNotEmpty: expected an item added for a non-empty value")
	}

	if len(txt) != 2 {
		t.Fatalf("DNSSdTxtRecord: expected 2 items, got %d", len(txt))
	}

	exported := txt.export()
	if string(exported[0]) != "busid=1-1" {
		t.Errorf("export: expected \"busid=1-1\", got %q", exported[0])
	}
	if string(exported[1]) != "reader=Canokey Relay Card 00 00" {
		t.Errorf("export: expected reader item, got %q", exported[1])
	}
}

// Test DNSSdServices.Add appends services
func TestDNSSdServicesAdd(t *testing.T) {
	var services DNSSdServices

	services.Add(DNSSdSvcInfo{Type: "_usbip._tcp", Port: USBIPPort})

	if len(services) != 1 {
		t.Fatalf("DNSSdServices: expected 1 service, got %d", len(services))
	}
	if services[0].Type != "_usbip._tcp" || services[0].Port != USBIPPort {
		t.Errorf("DNSSdServices: unexpected service %+v", services[0])
	}
}
