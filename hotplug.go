/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Handling USB hotplug events
 *
 * gousb doesn't expose libusb's hotplug callback API, so presence of
 * the fixed-identity physical token is polled instead: a probe opens
 * and immediately closes the device by VID:PID, and UsbHotPlugChan is
 * signalled whenever that probe's result flips
 */

package main

import "time"

// hotplugPollInterval is how often HotplugWatch probes for the
// physical token's presence
const hotplugPollInterval = 1 * time.Second

// UsbHotPlugChan gets signalled whenever the physical token's
// presence changes, in either direction
var UsbHotPlugChan = make(chan struct{}, 1)

// hotplugProbe reports whether the device identified by vid/pid is
// currently present, without retaining a handle to it
func hotplugProbe(vid, pid uint16) bool {
	dev, err := OpenNativeUSB(vid, pid)
	if err != nil {
		return false
	}
	dev.Close()
	return true
}

// hotplugNotify signals UsbHotPlugChan without blocking if a signal is
// already pending
func hotplugNotify() {
	select {
	case UsbHotPlugChan <- struct{}{}:
	default:
	}
}

// HotplugWatch polls for arrival/departure of the device identified by
// vid/pid until stop is closed, signalling UsbHotPlugChan on every
// transition
func HotplugWatch(vid, pid uint16, stop <-chan struct{}) {
	present := hotplugProbe(vid, pid)
	if present {
		hotplugNotify()
	}

	ticker := time.NewTicker(hotplugPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := hotplugProbe(vid, pid)
			if now != present {
				present = now
				Log.Debug(' ', "hotplug: device %s", map[bool]string{true: "arrived", false: "left"}[now])
				hotplugNotify()
			}
		}
	}
}
