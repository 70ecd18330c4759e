/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * WebUSB forwarder: the virtual device's vendor-specific interface,
 * relaying its control transfers verbatim to the matching
 * vendor-specific interface of the physical composite token
 */

package main

import (
	"fmt"
	"sync"
)

// bmRequestType bit layout helpers shared with the FIDO forwarder and
// the device-level control multiplexer
const (
	reqDirMask       = 0x80
	reqTypeMask      = 0x60
	reqRecipientMask = 0x1f

	reqTypeVendor = 0x40

	reqRecipientDevice    = 0x00
	reqRecipientInterface = 0x01
)

func setupIsIn(s setupPacket) bool       { return s.RequestType&reqDirMask != 0 }
func setupControlType(s setupPacket) int { return int(s.RequestType & reqTypeMask) }
func setupRecipient(s setupPacket) int   { return int(s.RequestType & reqRecipientMask) }

// WebUSBForwarder owns the physical device's vendor-specific
// interface and relays both device-level and interface-level vendor
// control transfers to it
type WebUSBForwarder struct {
	lock            sync.Mutex
	phys            *NativeUSBDevice
	interfaceNumber uint8
	logicalIndex    uint8

	bosOnce sync.Once
	bosCaps [][]byte
}

// NewWebUSBForwarder finds the first vendor-specific interface
// (class 0xFF) on the physical device, claims it, and remembers its
// interface number
func NewWebUSBForwarder(phys *NativeUSBDevice, logicalIndex uint8) (*WebUSBForwarder, error) {
	ifaces, err := phys.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("webusb: %w", err)
	}

	for _, ifc := range ifaces {
		for _, alt := range ifc.AltSettings {
			if int(alt.Class) == 0xFF {
				if err := phys.ClaimInterface(ifc.Number); err != nil {
					return nil, fmt.Errorf("webusb: claim interface %d: %w", ifc.Number, err)
				}
				return &WebUSBForwarder{
					phys:            phys,
					interfaceNumber: uint8(ifc.Number),
					logicalIndex:    logicalIndex,
				}, nil
			}
		}
	}

	return nil, fmt.Errorf("webusb: no vendor-specific interface on physical device")
}

// HandleDeviceVendorControl implements the vendor-child half of the
// device-level control multiplexer's dispatch (§4.4 rule 1): forward
// verbatim to the physical device's control endpoint, truncating IN
// results to transferBufferLength
func (w *WebUSBForwarder) HandleDeviceVendorControl(setup setupPacket, transferBufferLength int, out []byte) ([]byte, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if setupIsIn(setup) {
		buf := make([]byte, transferBufferLength)
		n, err := w.phys.ControlIn(setup.RequestType&^reqDirMask, setup.Request, setup.Value, setup.Index, buf)
		if err != nil {
			return nil, fmt.Errorf("webusb: device control in: %w", err)
		}
		return buf[:n], nil
	}

	if err := w.phys.ControlOut(setup.RequestType, setup.Request, setup.Value, setup.Index, out); err != nil {
		return nil, fmt.Errorf("webusb: device control out: %w", err)
	}
	return nil, nil
}

// HandleInterfaceControl implements the interface-level control path
// of §4.5. ccid is dropped before any transfer reaches the physical
// device, satisfying invariant I5 (WebUSB and CCID never hold the
// card/interface simultaneously).
func (w *WebUSBForwarder) HandleInterfaceControl(setup setupPacket, transferBufferLength int, out []byte, ccid *CCIDBridge) ([]byte, error) {
	if setupIsIn(setup) && setup.Request == usbReqGetStatus {
		return []byte{0x00, 0x00}, nil
	}

	if ccid != nil {
		ccid.DropCard()
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	index := setup.Index
	if setupRecipient(setup) == reqRecipientInterface {
		index = (index &^ 0x00ff) | uint16(w.interfaceNumber)
	}

	if setupIsIn(setup) {
		buf := make([]byte, transferBufferLength)
		n, err := w.phys.ControlIn(setup.RequestType&^reqDirMask, setup.Request, setup.Value, index, buf)
		if err != nil {
			return nil, fmt.Errorf("webusb: interface control in: %w", err)
		}
		return buf[:n], nil
	}

	if err := w.phys.ControlOut(setup.RequestType, setup.Request, setup.Value, index, out); err != nil {
		return nil, fmt.Errorf("webusb: interface control out: %w", err)
	}
	return nil, nil
}

// usbReqGetStatus is the standard GET_STATUS request code
const usbReqGetStatus = 0x00

// CapabilityFragments returns the physical device's BOS capability
// descriptor fragments, fetched and parsed once and cached
// thereafter. Any malformed BOS descriptor yields an empty list, per
// §4.5.
func (w *WebUSBForwarder) CapabilityFragments(log *Logger) [][]byte {
	w.bosOnce.Do(func() {
		w.bosCaps = w.fetchCapabilityFragments(log)
	})
	return w.bosCaps
}

func (w *WebUSBForwarder) fetchCapabilityFragments(log *Logger) [][]byte {
	buf := make([]byte, 4096)
	n, err := w.phys.GetDescriptor(descTypeBOS, 0, 0, buf)
	if err != nil {
		log.Begin().Error('!', "WebUSB: failed to fetch BOS descriptor: %s", err).Commit()
		return nil
	}
	bos := buf[:n]

	if len(bos) < 5 || bos[0] != 0x05 || bos[1] != descTypeBOS {
		log.Begin().Error('!', "WebUSB: malformed BOS descriptor header").Commit()
		return nil
	}

	totalLength := uint16(bos[2]) | uint16(bos[3])<<8
	count := bos[4]
	if count == 0 || int(totalLength) != len(bos) {
		log.Begin().Error('!', "WebUSB: BOS descriptor length/count mismatch").Commit()
		return nil
	}

	var fragments [][]byte
	rest := bos[5:]
	for len(rest) > 0 {
		fragLen := int(rest[0])
		if fragLen == 0 || fragLen > len(rest) {
			log.Begin().Error('!', "WebUSB: truncated device capability descriptor").Commit()
			return nil
		}
		fragments = append(fragments, append([]byte(nil), rest[:fragLen]...))
		rest = rest[fragLen:]
	}
	return fragments
}

// Close does nothing: the claimed vendor interface is released when
// the backing native USB device handle, owned by the device object,
// is closed.
func (w *WebUSBForwarder) Close() {}
