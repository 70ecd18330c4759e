/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * FIDO/HID forwarder: the virtual device's interrupt-transfer U2F
 * interface, backed by a raw-HID handle to the physical token's
 * matching HID interface
 */

package main

import (
	"fmt"
	"sync"
	"time"
)

const (
	fidoPacketSize    = 64
	fidoReadTimeout   = 4 * time.Millisecond
	fidoOutReportID   = 0x00
	hidDescriptorType = 0x21
	hidReportDescType = 0x22
)

// FIDOForwarder relays the virtual device's interrupt IN/OUT
// transfers to the physical token's FIDO/U2F HID interface, and
// answers the interface's control-endpoint descriptor requests
type FIDOForwarder struct {
	lock sync.Mutex
	hid  *RawHIDDevice
	phys *NativeUSBDevice

	reportOnce sync.Once
	reportDesc []byte
	classDesc  []byte
}

// NewFIDOForwarder opens the raw-HID interface matching vid/pid whose
// usage page is 0xF1D0, and remembers the physical device handle used
// to fetch the class-specific descriptors over the control endpoint
func NewFIDOForwarder(vid, pid uint16, phys *NativeUSBDevice) (*FIDOForwarder, error) {
	hid, err := OpenFIDORawHID(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("fido: %w", err)
	}

	// Synthesized per §4.6: a 9-byte HID class descriptor (class 0x21)
	// pointing at the report descriptor that will be fetched lazily
	classDesc := []byte{
		9, hidDescriptorType,
		0x11, 0x01, // bcdHID 1.11
		0x00,       // bCountryCode
		0x01,       // bNumDescriptors
		hidReportDescType, 0x00, 0x00, // placeholder report length, patched below
	}

	return &FIDOForwarder{hid: hid, phys: phys, classDesc: classDesc}, nil
}

// ClassDescriptor returns the interrupt interface's class-specific
// HID descriptor (9 bytes, class 0x21), with its report-length field
// patched in once the report descriptor itself has been fetched
func (f *FIDOForwarder) ClassDescriptor() []byte {
	return f.classDesc
}

// HandleControl implements the FIDO interface's control endpoint:
// GetDescriptor(Report) lazily fetches and caches the physical
// device's HID report descriptor; SetIdle (0x0A) is accepted as a
// no-op; anything else is unsupported.
func (f *FIDOForwarder) HandleControl(setup setupPacket, transferBufferLength int) ([]byte, error) {
	const reqSetIdle = 0x0A

	if setupIsIn(setup) && setup.Request == usbReqGetDescriptor {
		descType := uint8(setup.Value >> 8)
		if descType == hidReportDescType {
			desc := f.reportDescriptor()
			if len(desc) > transferBufferLength {
				desc = desc[:transferBufferLength]
			}
			return desc, nil
		}
	}

	if setup.Request == reqSetIdle {
		return nil, nil
	}

	return nil, ErrUnsupported
}

// reportDescriptor fetches the physical HID interface's report
// descriptor over the control endpoint and caches it for the life of
// the forwarder. karalabe/hid has no report-descriptor accessor, so
// unlike the interrupt transfers this goes through phys, not hid.
func (f *FIDOForwarder) reportDescriptor() []byte {
	f.reportOnce.Do(func() {
		buf := make([]byte, 4096)
		n, err := f.phys.GetDescriptor(hidReportDescType, 0, 0, buf)
		if err != nil {
			f.reportDesc = nil
			return
		}
		f.reportDesc = buf[:n]
		if len(f.reportDesc) <= 0xFFFF {
			f.classDesc[7] = byte(len(f.reportDesc))
			f.classDesc[8] = byte(len(f.reportDesc) >> 8)
		}
	})
	return f.reportDesc
}

// InterruptIn performs a non-blocking read of whatever the physical
// token has pending, per §4.6: read errors and empty reads both
// collapse to an empty result, never an error
func (f *FIDOForwarder) InterruptIn() []byte {
	buf := f.hid.ReadTimeout(fidoPacketSize, fidoReadTimeout)
	if buf == nil {
		return nil
	}
	return buf
}

// InterruptOut writes one 64-byte report to the physical token,
// prefixed with the mandatory report-id byte
func (f *FIDOForwarder) InterruptOut(payload []byte) error {
	return f.hid.Write(fidoOutReportID, payload)
}

// Close releases the raw-HID handle
func (f *FIDOForwarder) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.hid.Close()
}
