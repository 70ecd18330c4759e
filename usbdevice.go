/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Device-level control multiplexer: routes every control transfer and
 * every bulk/interrupt transfer the USB/IP wire layer decodes to the
 * right interface handler, and assembles the aggregated BOS
 * descriptor the host sees on GetDescriptor(BOS)
 */

package main

import (
	"sync"
)

// Endpoint numbers (without direction bit) the virtual device exposes
const (
	epNumCCID = epCCIDIn & 0x0f
	epNumFIDO = epFIDOIn & 0x0f
)

// Control recipients, decoded from bmRequestType bits 0-4
const (
	recipDevice    = 0x00
	recipInterface = 0x01
	recipEndpoint  = 0x02
)

const usbReqGetDescriptorStd = 0x06

// VirtualDevice is the composite FIDO/WebUSB/CCID token presented to
// USB/IP clients. It owns the three interface handlers and answers
// every control/data transfer the wire layer hands it.
type VirtualDevice struct {
	log    *Logger
	ccid   *CCIDBridge
	fido   *FIDOForwarder
	webusb *WebUSBForwarder

	deviceDesc []byte
	configDesc []byte
	stringDesc [][]byte

	bosOnce  sync.Once
	bosCache []byte
}

// defaultBOS is the fallback aggregated BOS descriptor used when no
// vendor child contributes capability fragments, or when the
// aggregation overflows a u16/u8 field
var defaultBOS = []byte{0x05, 0x0F, 0x05, 0x00, 0x00}

// NewVirtualDevice assembles the composite device's descriptor tables
// and binds its three interface handlers. quirks may mask the CCID
// class descriptor's auto-voltage feature bit and override the
// synthetic serial number string.
func NewVirtualDevice(log *Logger, ccid *CCIDBridge, fido *FIDOForwarder, webusb *WebUSBForwarder, quirks *Quirks, defaultClock, maxClock, dataRate, maxDataRate uint32) *VirtualDevice {
	return &VirtualDevice{
		log:        log,
		ccid:       ccid,
		fido:       fido,
		webusb:     webusb,
		deviceDesc: BuildDeviceDescriptor(),
		configDesc: BuildConfigurationDescriptor(quirks, defaultClock, maxClock, dataRate, maxDataRate),
		stringDesc: BuildStringDescriptors(quirks),
	}
}

// DeviceDescriptor returns the fixed 18-byte device descriptor
func (v *VirtualDevice) DeviceDescriptor() []byte { return v.deviceDesc }

// ConfigurationDescriptor returns the full configuration descriptor set
func (v *VirtualDevice) ConfigurationDescriptor() []byte { return v.configDesc }

// HandleControl dispatches one endpoint-0 control transfer, per §4.4.
// handled reports whether this multiplexer produced a definitive
// answer; false means the caller should surface an invalid-data
// control-channel error.
func (v *VirtualDevice) HandleControl(setup setupPacket, transferBufferLength int, out []byte) (resp []byte, handled bool) {
	recipient := setupRecipient(setup)

	switch recipient {
	case recipDevice:
		if setupControlType(setup) == reqTypeVendor && v.webusb != nil {
			data, err := v.webusb.HandleDeviceVendorControl(setup, transferBufferLength, out)
			if err != nil {
				v.log.Begin().Error('!', "WebUSB: device vendor control failed: %s", err).Commit()
				return nil, false
			}
			return data, true
		}

		if setupIsIn(setup) && setup.Request == usbReqGetStatus {
			return []byte{0x00, 0x00}, true
		}

		if setupIsIn(setup) && setup.Request == usbReqGetDescriptorStd && uint8(setup.Value>>8) == descTypeBOS {
			return v.aggregatedBOS(), true
		}

		if setupIsIn(setup) && setup.Request == usbReqGetDescriptorStd && uint8(setup.Value>>8) == descTypeString {
			idx := int(uint8(setup.Value))
			if idx < len(v.stringDesc) && v.stringDesc[idx] != nil {
				return v.stringDesc[idx], true
			}
			return nil, false
		}

		return nil, false

	case recipInterface:
		ifaceNum := uint8(setup.Index)
		switch ifaceNum {
		case ifaceFIDO:
			data, err := v.fido.HandleControl(setup, transferBufferLength)
			if err != nil {
				return nil, false
			}
			return data, true

		case ifaceWebUSB:
			if v.webusb == nil {
				return nil, false
			}
			data, err := v.webusb.HandleInterfaceControl(setup, transferBufferLength, out, v.ccid)
			if err != nil {
				v.log.Begin().Error('!', "WebUSB: interface control failed: %s", err).Commit()
				return nil, false
			}
			return data, true

		case ifaceCCID:
			if setupIsIn(setup) && setup.Request == usbReqGetStatus {
				return []byte{0x00, 0x00}, true
			}
			return nil, false
		}
	}

	return nil, false
}

// aggregatedBOS builds the device's aggregated BOS descriptor from
// every vendor child's capability fragments, computed once and cached
// (§4.4's "first-wins" rule from the concurrency model)
func (v *VirtualDevice) aggregatedBOS() []byte {
	v.bosOnce.Do(func() {
		v.bosCache = v.buildBOS()
	})
	return v.bosCache
}

func (v *VirtualDevice) buildBOS() []byte {
	if v.webusb == nil {
		return defaultBOS
	}

	fragments := v.webusb.CapabilityFragments(v.log)
	if len(fragments) == 0 {
		return defaultBOS
	}

	totalLength := 5
	for _, f := range fragments {
		totalLength += len(f)
	}
	if totalLength > 0xFFFF || len(fragments) > 0xFF {
		v.log.Begin().Error('!', "BOS: aggregated descriptor overflows u16/u8, falling back to empty").Commit()
		return defaultBOS
	}

	out := make([]byte, 0, totalLength)
	out = append(out, 0x05, 0x0F, byte(totalLength), byte(totalLength>>8), byte(len(fragments)))
	for _, f := range fragments {
		out = append(out, f...)
	}
	return out
}

// HandleTransfer dispatches one bulk or interrupt transfer by
// endpoint number and direction, per the USB/IP server's
// (endpoint, setup, transfer_buffer_length, req_bytes) callback
// contract of §6.1. dir follows the USB/IP wire convention: 0=OUT,
// 1=IN.
func (v *VirtualDevice) HandleTransfer(ep uint8, dir uint8, out []byte) []byte {
	switch ep {
	case epNumCCID:
		if dir == usbipDirOut {
			v.ccid.HandleBulkOut(out)
			return nil
		}
		return v.ccid.PopResponse()

	case epNumFIDO:
		if dir == usbipDirOut {
			if err := v.fido.InterruptOut(out); err != nil {
				v.log.Begin().Error('!', "FIDO: interrupt out failed: %s", err).Commit()
			}
			return nil
		}
		return v.fido.InterruptIn()
	}

	return nil
}

// Close tears down every owned interface handler
func (v *VirtualDevice) Close() {
	v.ccid.Close()
	v.fido.Close()
	v.webusb.Close()
}
