/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * USB/IP wire structures: the management handshake (OP_REQ_DEVLIST /
 * OP_REQ_IMPORT and their replies) and the URB submit/unlink loop
 * (USBIP_CMD_SUBMIT / USBIP_RET_SUBMIT / USBIP_CMD_UNLINK /
 * USBIP_RET_UNLINK), encoded exactly as the Linux usbip kernel client
 * expects them on the wire. Header layout and offsets follow the
 * VIIPER reference server.
 */

package main

import (
	"encoding/binary"
	"fmt"
	"io"
)

// USB/IP protocol version and management op codes
const (
	usbipVersion = 0x0111

	opReqDevlist = 0x8005
	opRepDevlist = 0x0005
	opReqImport  = 0x8003
	opRepImport  = 0x0003
)

// USBIP_CMD_*/USBIP_RET_* command codes
const (
	usbipCmdSubmit = 0x00000001
	usbipCmdUnlink = 0x00000002
	usbipRetSubmit = 0x00000003
	usbipRetUnlink = 0x00000004
)

// Transfer direction, as carried in the URB header
const (
	usbipDirOut = 0
	usbipDirIn  = 1
)

// errConnReset is the negative errno usbip expects as the -ECONNRESET
// status of a RET_UNLINK reply to an in-flight unlink request
const errConnReset = -104

// Fixed sizes of the wire structures this file encodes/decodes
const (
	mgmtHeaderSize    = 8  // version(2) + code(2) + status(4)
	mgmtReqHeaderSize = 4  // version(2) + code(2), no status on requests
	devlistCountSize  = 4
	exportedDevSize   = 312 // path[256] + busid[32] + busnum/devnum/speed(4*3) + ids(2*3) + class/sub/proto/cfgval/numcfg/numif(1*6)
	interfaceDescSize = 4
	busIDSize         = 32

	urbHdrSize          = 0x30 // USBIP_CMD_SUBMIT / USBIP_RET_SUBMIT / unlink header size
	urbHdrOffsetCommand = 0x00
	urbHdrOffsetSeqnum  = 0x04
	urbHdrOffsetDevid   = 0x08
	urbHdrOffsetDir     = 0x0c
	urbHdrOffsetEp      = 0x10
	urbHdrOffsetUnlink  = 0x14
	urbHdrOffsetFlags   = 0x14
	urbHdrOffsetLength  = 0x18
	urbHdrOffsetSetup   = 0x28

	retSubmitHeaderSize = 0x30
)

// mgmtHeader is the common reply header for every management op
type mgmtHeader struct {
	Version uint16
	Code    uint16
	Status  uint32
}

func writeMgmtHeader(w io.Writer, code uint16, status uint32) error {
	h := mgmtHeader{Version: usbipVersion, Code: code, Status: status}
	return binary.Write(w, binary.BigEndian, h)
}

// exportedInterface is one usbip_usb_interface wire entry following
// an exported device's fixed-size header
type exportedInterface struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	Padding  uint8
}

func writeExportedInterface(w io.Writer, class, subClass, protocol uint8) error {
	return binary.Write(w, binary.BigEndian, exportedInterface{
		Class: class, SubClass: subClass, Protocol: protocol,
	})
}

// writeExportedDevice serializes the usbip_usb_device struct: a
// null-padded sysfs-style path, the busid string, then the
// device/configuration identity fields. path and busid are both
// arbitrary strings we invent, since the relay has no real sysfs node
// to report.
func writeExportedDevice(w io.Writer, path, busID string, busNum, devNum uint32, desc DeviceDescriptor, numInterfaces uint8) error {
	var pathBuf [256]byte
	copy(pathBuf[:], path)
	var busBuf [32]byte
	copy(busBuf[:], busID)

	if _, err := w.Write(pathBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(busBuf[:]); err != nil {
		return err
	}

	fields := []interface{}{
		busNum, devNum, uint32(usbSpeedHigh),
		desc.VendorID, desc.ProductID, desc.Device,
		desc.DeviceClass, desc.DeviceSubClass, desc.DeviceProtocol,
		uint8(1), // bConfigurationValue
		desc.NumConfigurations,
		numInterfaces,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// usbSpeedHigh is the usbip wire encoding of USB_SPEED_HIGH
const usbSpeedHigh = 3

// urbHeader is the decoded common+submit-specific fields of one
// incoming URB, as handed off to the device dispatch layer
type urbHeader struct {
	Command        uint32
	Seqnum         uint32
	Devid          uint32
	Direction      uint32
	Endpoint       uint32
	TransferFlags  uint32
	TransferLength uint32
	UnlinkSeqnum   uint32
	Setup          [8]byte
}

// decodeURBHeader parses the fixed 48-byte URB header. It does not
// distinguish SUBMIT from UNLINK; the caller switches on Command and
// reads either TransferLength/Setup or UnlinkSeqnum accordingly.
func decodeURBHeader(raw []byte) urbHeader {
	var h urbHeader
	h.Command = binary.BigEndian.Uint32(raw[urbHdrOffsetCommand : urbHdrOffsetCommand+4])
	h.Seqnum = binary.BigEndian.Uint32(raw[urbHdrOffsetSeqnum : urbHdrOffsetSeqnum+4])
	h.Devid = binary.BigEndian.Uint32(raw[urbHdrOffsetDevid : urbHdrOffsetDevid+4])
	h.Direction = binary.BigEndian.Uint32(raw[urbHdrOffsetDir : urbHdrOffsetDir+4])
	h.Endpoint = binary.BigEndian.Uint32(raw[urbHdrOffsetEp : urbHdrOffsetEp+4])
	h.TransferFlags = binary.BigEndian.Uint32(raw[urbHdrOffsetFlags : urbHdrOffsetFlags+4])
	h.TransferLength = binary.BigEndian.Uint32(raw[urbHdrOffsetLength : urbHdrOffsetLength+4])
	h.UnlinkSeqnum = binary.BigEndian.Uint32(raw[urbHdrOffsetUnlink : urbHdrOffsetUnlink+4])
	copy(h.Setup[:], raw[urbHdrOffsetSetup:urbHdrSize])
	return h
}

// encodeRetSubmit serializes one USBIP_RET_SUBMIT header. The
// trailing bytes of the 48-byte frame (start_frame/number_of_packets/
// error_count and padding) are always zero: isochronous transfers are
// out of scope.
func encodeRetSubmit(seqnum uint32, status int32, actualLength uint32) []byte {
	buf := make([]byte, retSubmitHeaderSize)
	binary.BigEndian.PutUint32(buf[urbHdrOffsetCommand:], usbipRetSubmit)
	binary.BigEndian.PutUint32(buf[urbHdrOffsetSeqnum:], seqnum)
	binary.BigEndian.PutUint32(buf[0x14:], uint32(status))
	binary.BigEndian.PutUint32(buf[0x18:], actualLength)
	return buf
}

// encodeRetUnlink serializes one USBIP_RET_UNLINK header
func encodeRetUnlink(seqnum uint32, status int32) []byte {
	buf := make([]byte, urbHdrSize)
	binary.BigEndian.PutUint32(buf[urbHdrOffsetCommand:], usbipRetUnlink)
	binary.BigEndian.PutUint32(buf[urbHdrOffsetSeqnum:], seqnum)
	binary.BigEndian.PutUint32(buf[0x14:], uint32(status))
	return buf
}

// readExactly reads len(buf) bytes or returns an error, collapsing
// io.ErrUnexpectedEOF/io.EOF into a single uniform wrapped error
func readExactly(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return fmt.Errorf("short read: %w", err)
	}
	return nil
}

// setupPacket is the decoded 8-byte control transfer setup stage
type setupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

func decodeSetup(raw [8]byte) setupPacket {
	return setupPacket{
		RequestType: raw[0],
		Request:     raw[1],
		Value:       binary.LittleEndian.Uint16(raw[2:4]),
		Index:       binary.LittleEndian.Uint16(raw[4:6]),
		Length:      binary.LittleEndian.Uint16(raw[6:8]),
	}
}
