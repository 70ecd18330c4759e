/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Tests for hotplug detection
 */

package main

import (
	"testing"
)

// Test hotplugNotify never blocks, even when the channel already
// carries a pending signal
func TestHotplugNotifyNonBlocking(t *testing.T) {
	saved := UsbHotPlugChan
	defer func() { UsbHotPlugChan = saved }()

	UsbHotPlugChan = make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		hotplugNotify()
		hotplugNotify()
		hotplugNotify()
		close(done)
	}()

	select {
	case <-done:
	default:
	}

	<-done

	select {
	case <-UsbHotPlugChan:
	default:
		t.Errorf("expected a pending signal on UsbHotPlugChan")
	}

	select {
	case <-UsbHotPlugChan:
		t.Errorf("expected at most one pending signal on UsbHotPlugChan")
	default:
	}
}

// Test hotplugProbe reports absence of a device that cannot possibly
// be attached
func TestHotplugProbeAbsent(t *testing.T) {
	present := hotplugProbe(0xffff, 0xffff)
	if present {
		t.Errorf("hotplugProbe: expected false for a nonexistent device")
	}
}
