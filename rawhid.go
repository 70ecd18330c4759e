/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Raw HID backend adapter: wraps github.com/karalabe/hid behind the
 * FIDO forwarder's enumerate/open/read-with-timeout/write contract
 */

package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"
)

// fidoUsagePage is the HID usage page FIDO/U2F authenticators report,
// used to pick the right raw-HID device out of a composite token's
// several HID-class interfaces
const fidoUsagePage = 0xF1D0

// RawHIDDevice is a live interrupt-transfer handle to one physical HID
// interface, together with the enumeration info it was opened from
type RawHIDDevice struct {
	lock   sync.Mutex
	dev    *hid.Device
	info   hid.DeviceInfo
	closed bool
}

// OpenFIDORawHID enumerates every raw-HID interface exposed by the
// physical device matching vid/pid, picks the one whose usage page is
// 0xF1D0, and opens it
func OpenFIDORawHID(vid, pid uint16) (*RawHIDDevice, error) {
	infos := hid.Enumerate(vid, pid)
	for _, info := range infos {
		if info.UsagePage != fidoUsagePage {
			continue
		}
		dev, err := info.Open()
		if err != nil {
			return nil, fmt.Errorf("hid: open %04x:%04x: %w", vid, pid, err)
		}
		return &RawHIDDevice{dev: dev, info: info}, nil
	}
	return nil, fmt.Errorf("hid: no FIDO usage-page interface on %04x:%04x", vid, pid)
}

// InterfaceNumber reports the physical interface number the HID
// device was enumerated from
func (h *RawHIDDevice) InterfaceNumber() int {
	return h.info.Interface
}

// ReadTimeout performs a non-blocking interrupt IN read, returning
// whatever is available within the given timeout. Read errors and
// timeouts are both reported as nil: the caller (FIDO
// forwarder) treats an empty read as "nothing pending", per §4.6.
func (h *RawHIDDevice) ReadTimeout(max int, timeout time.Duration) []byte {
	h.lock.Lock()
	dev := h.dev
	h.lock.Unlock()
	if dev == nil {
		return nil
	}

	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, max)
		n, err := dev.Read(buf)
		done <- result{buf: buf[:n], err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil
		}
		return r.buf
	case <-time.After(timeout):
		return nil
	}
}

// Write prepends the mandatory report-id byte (karalabe/hid always
// expects one, even for report-id-less devices) and sends an output
// report on the interrupt OUT endpoint
func (h *RawHIDDevice) Write(reportID byte, payload []byte) error {
	h.lock.Lock()
	dev := h.dev
	h.lock.Unlock()
	if dev == nil {
		return ErrUnsupported
	}

	buf := append([]byte{reportID}, payload...)
	_, err := dev.Write(buf)
	if err != nil {
		return fmt.Errorf("hid: write: %w", err)
	}
	return nil
}

// Close releases the HID device handle
func (h *RawHIDDevice) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed || h.dev == nil {
		return nil
	}
	h.closed = true
	return h.dev.Close()
}
