/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Virtual composite USB device descriptor tables: device, configuration,
 * interface, endpoint and CCID class descriptors for the three-interface
 * FIDO/WebUSB/CCID device presented to USB/IP clients
 */

package main

import (
	"bytes"
	"encoding/binary"
)

// Standard USB descriptor type codes
const (
	descTypeDevice        = 0x01
	descTypeConfiguration = 0x02
	descTypeString        = 0x03
	descTypeInterface     = 0x04
	descTypeEndpoint      = 0x05
	descTypeBOS           = 0x0F
	descTypeCCID          = 0x21
)

// Fixed identity of the virtual device, per the relay's device contract
const (
	relayVendorID     = 0x20A0
	relayProductID    = 0x42D4
	relayUSBVersion   = 0x0210
	relayDeviceBCD    = 0x0100
	relayProduct      = "Canokey Relay Card"
	relayManufacturer = "canokeys.org"
	relaySerialFormat = "AAAABBBBCC"
)

// Interface numbers, fixed by the device contract of §6.2
const (
	ifaceFIDO   = 0
	ifaceWebUSB = 1
	ifaceCCID   = 2
)

// Endpoint addresses
const (
	epFIDOIn   = 0x82
	epFIDOOut  = 0x02
	epCCIDIn   = 0x81
	epCCIDOut  = 0x01
)

// DeviceDescriptor is the standard 18-byte USB device descriptor
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USB               uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	Device            uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// String descriptor indices, assigned in the fixed order the device
// descriptor references them
const (
	strIdxManufacturer = 1
	strIdxProduct      = 2
	strIdxSerialNumber = 3
)

// SetDefaults fills in the fixed device identity from §6.2
func (d *DeviceDescriptor) SetDefaults() {
	d.Length = 18
	d.DescriptorType = descTypeDevice
	d.USB = relayUSBVersion
	d.DeviceClass = 0x00
	d.DeviceSubClass = 0x00
	d.DeviceProtocol = 0x00
	d.MaxPacketSize0 = 64
	d.VendorID = relayVendorID
	d.ProductID = relayProductID
	d.Device = relayDeviceBCD
	d.Manufacturer = strIdxManufacturer
	d.Product = strIdxProduct
	d.SerialNumber = strIdxSerialNumber
	d.NumConfigurations = 1
}

// Bytes serializes the descriptor to its on-wire representation
func (d *DeviceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// ConfigurationDescriptor is the standard 9-byte configuration descriptor
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

func (c *ConfigurationDescriptor) SetDefaults() {
	c.Length = 9
	c.DescriptorType = descTypeConfiguration
	c.NumInterfaces = 3
	c.ConfigurationValue = 1
	c.Attributes = 0x80 // bus powered
	c.MaxPower = 50      // 100mA
}

func (c *ConfigurationDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, c)
	return buf.Bytes()
}

// InterfaceDescriptor is the standard 9-byte interface descriptor
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
}

func (i *InterfaceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, i)
	return buf.Bytes()
}

// EndpointDescriptor is the standard 7-byte endpoint descriptor
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

func (e *EndpointDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, e)
	return buf.Bytes()
}

func newEndpoint(addr, attrs byte, maxPacket uint16, interval byte) EndpointDescriptor {
	return EndpointDescriptor{
		Length:          7,
		DescriptorType:  descTypeEndpoint,
		EndpointAddress: addr,
		Attributes:      attrs,
		MaxPacketSize:   maxPacket,
		Interval:        interval,
	}
}

// CCIDDescriptor implements the 54-byte USB Smart Card Device Class
// descriptor, p17 Table 5.1-1 of the CCID Rev1.1 specification.
//
// Two windows are populated from the backing physical reader's own
// CCID descriptor rather than fixed: DefaultClock/MaximumClock
// (offsets [10:18)) and DataRate/MaxDataRate (offsets [19:27)). Every
// other field is constant, per §6.3.
type CCIDDescriptor struct {
	Length                uint8
	DescriptorType        uint8
	CCID                  uint16
	MaxSlotIndex          uint8
	VoltageSupport        uint8
	Protocols             uint32
	DefaultClock          uint32
	MaximumClock          uint32
	NumClockSupported     uint8
	DataRate              uint32
	MaxDataRate           uint32
	NumDataRatesSupported uint8
	MaxIFSD               uint32
	SynchProtocols        uint32
	Mechanical            uint32
	Features              uint32
	MaxCCIDMessageLength  uint32
	ClassGetResponse      uint8
	ClassEnvelope         uint8
	LcdLayout             uint16
	PINSupport            uint8
	MaxCCIDBusySlots      uint8
}

const ccidDescriptorLength = 54

// SetDefaults fills in every field of §6.3 that is constant,
// independent of the backing physical reader
func (d *CCIDDescriptor) SetDefaults() {
	d.Length = ccidDescriptorLength
	d.DescriptorType = descTypeCCID
	d.CCID = 0x0110
	d.MaxSlotIndex = 0
	d.VoltageSupport = 0x7 // all voltages
	d.Protocols = 0x2      // T=1
	d.MaxIFSD = 0xFFF6
	// short+extended APDU level exchange, auto configuration from
	// ATR, auto activation on insert, auto voltage/clock/baud,
	// auto parameter negotiation
	d.Features = 0x400FE
	d.MaxCCIDMessageLength = 65536
	d.ClassGetResponse = 0xFF
	d.ClassEnvelope = 0xFF
	d.MaxCCIDBusySlots = 1
}

// featureAutoVoltage is the dwFeatures bit claiming automatic ICC
// voltage selection, per Table 6.1-1 of the CCID Rev1.1 specification
const featureAutoVoltage = 0x00000008

// ApplyQuirks masks dwFeatures' auto-voltage-selection bit when the
// no-auto-voltage quirk is set, forcing the host to drive
// IccPowerOn's voltage selection explicitly instead of Auto
func (d *CCIDDescriptor) ApplyQuirks(quirks *Quirks) {
	if quirks.GetNoAutoVoltage() {
		d.Features &^= featureAutoVoltage
	}
}

// SetClocksAndRates populates the two windows borrowed from the
// backing physical reader's own CCID descriptor
func (d *CCIDDescriptor) SetClocksAndRates(defaultClock, maxClock, dataRate, maxDataRate uint32) {
	d.DefaultClock = defaultClock
	d.MaximumClock = maxClock
	d.NumClockSupported = 0
	d.DataRate = dataRate
	d.MaxDataRate = maxDataRate
	d.NumDataRatesSupported = 0
}

func (d *CCIDDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// BuildDeviceDescriptor returns the fixed 18-byte device descriptor
// for the virtual composite device
func BuildDeviceDescriptor() []byte {
	d := DeviceDescriptor{}
	d.SetDefaults()
	return d.Bytes()
}

// BuildConfigurationDescriptor assembles the full configuration
// descriptor set (configuration + 3 interfaces + their endpoints +
// the CCID class descriptor), in the fixed order of §6.2:
// FIDO, WebUSB, CCID. defaultClock/maxClock/dataRate/maxDataRate are
// borrowed from the backing physical reader, per §6.3. quirks may
// mask the CCID class descriptor's auto-voltage feature bit.
func BuildConfigurationDescriptor(quirks *Quirks, defaultClock, maxClock, dataRate, maxDataRate uint32) []byte {
	var body bytes.Buffer

	// Interface 0: FIDO/U2F, class 03/00/00, interrupt IN/OUT 64B
	fido := InterfaceDescriptor{
		Length: 9, DescriptorType: descTypeInterface,
		InterfaceNumber: ifaceFIDO, NumEndpoints: 2,
		InterfaceClass: 0x03, InterfaceSubClass: 0x00, InterfaceProtocol: 0x00,
	}
	body.Write(fido.Bytes())
	epIn := newEndpoint(epFIDOIn, 0x03, 64, 6)
	epOut := newEndpoint(epFIDOOut, 0x03, 64, 6)
	body.Write(epIn.Bytes())
	body.Write(epOut.Bytes())

	// Interface 1: WebUSB, class FF/FF/FF, no endpoints
	webusb := InterfaceDescriptor{
		Length: 9, DescriptorType: descTypeInterface,
		InterfaceNumber: ifaceWebUSB, NumEndpoints: 0,
		InterfaceClass: 0xFF, InterfaceSubClass: 0xFF, InterfaceProtocol: 0xFF,
	}
	body.Write(webusb.Bytes())

	// Interface 2: CCID "OpenPGP PIV OATH", class 0B/00/00, bulk
	// IN/OUT 512B, followed by its class-specific CCID descriptor
	ccidIface := InterfaceDescriptor{
		Length: 9, DescriptorType: descTypeInterface,
		InterfaceNumber: ifaceCCID, NumEndpoints: 2,
		InterfaceClass: 0x0B, InterfaceSubClass: 0x00, InterfaceProtocol: 0x00,
	}
	body.Write(ccidIface.Bytes())

	ccidDesc := CCIDDescriptor{}
	ccidDesc.SetDefaults()
	ccidDesc.SetClocksAndRates(defaultClock, maxClock, dataRate, maxDataRate)
	ccidDesc.ApplyQuirks(quirks)
	body.Write(ccidDesc.Bytes())

	ccidIn := newEndpoint(epCCIDIn, 0x02, 512, 0)
	ccidOut := newEndpoint(epCCIDOut, 0x02, 512, 0)
	body.Write(ccidIn.Bytes())
	body.Write(ccidOut.Bytes())

	cfg := ConfigurationDescriptor{}
	cfg.SetDefaults()
	cfg.TotalLength = uint16(cfg.Length) + uint16(body.Len())

	var out bytes.Buffer
	out.Write(cfg.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

// BuildStringDescriptor encodes s as a standard USB string descriptor
// (UTF-16LE, per §9.6.7 of the USB 2.0 specification)
func BuildStringDescriptor(s string) []byte {
	out := []byte{0, descTypeString}
	for _, r := range s {
		if r > 0xFFFF {
			r = '?'
		}
		out = append(out, byte(r), byte(r>>8))
	}
	out[0] = byte(len(out))
	return out
}

// langIDDescriptor is string descriptor index 0: the single supported
// language ID, US English
var langIDDescriptor = []byte{4, descTypeString, 0x09, 0x04}

// EffectiveSerialNumber returns the relay's synthetic USB serial
// number string, replaced by the serial-override quirk when set
func EffectiveSerialNumber(quirks *Quirks) string {
	if s := quirks.GetSerialOverride(); s != "" {
		return s
	}
	return relaySerialFormat
}

// BuildStringDescriptors returns the full table of string descriptors
// the virtual device answers GetDescriptor(String, index) with,
// indexed by descriptor index (index 0 is the language ID table)
func BuildStringDescriptors(quirks *Quirks) [][]byte {
	table := make([][]byte, strIdxSerialNumber+1)
	table[0] = langIDDescriptor
	table[strIdxManufacturer] = BuildStringDescriptor(relayManufacturer)
	table[strIdxProduct] = BuildStringDescriptor(relayProduct)
	table[strIdxSerialNumber] = BuildStringDescriptor(EffectiveSerialNumber(quirks))
	return table
}
