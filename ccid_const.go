/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * CCID bulk message protocol constants
 */

package main

// CCID bulk message types, PC_to_RDR direction (host to reader)
const (
	ccidPCtoRDR_IccPowerOn                    = 0x62
	ccidPCtoRDR_IccPowerOff                   = 0x63
	ccidPCtoRDR_GetSlotStatus                 = 0x65
	ccidPCtoRDR_XfrBlock                      = 0x6F
	ccidPCtoRDR_GetParameters                 = 0x6C
	ccidPCtoRDR_ResetParameters                = 0x6D
	ccidPCtoRDR_SetParameters                  = 0x61
	ccidPCtoRDR_Escape                         = 0x6B
	ccidPCtoRDR_IccClock                       = 0x6E
	ccidPCtoRDR_T0APDU                         = 0x6A
	ccidPCtoRDR_Secure                         = 0x69
	ccidPCtoRDR_Mechanical                     = 0x71
	ccidPCtoRDR_Abort                          = 0x72
	ccidPCtoRDR_SetDataRateAndClockFrequency   = 0x73
)

// CCID bulk message types, RDR_to_PC direction (reader to host)
const (
	ccidRDRtoPC_DataBlock                 = 0x80
	ccidRDRtoPC_SlotStatus                = 0x81
	ccidRDRtoPC_Parameters                = 0x82
	ccidRDRtoPC_Escape                    = 0x83
	ccidRDRtoPC_DataRateAndClockFrequency = 0x84
)

// ccidHeaderSize is the size of the common 10-byte CCID message header
// (bMessageType, dwLength, bSlot, bSeq and three message-specific bytes)
const ccidHeaderSize = 10

// CCID slot status register: ICC status in bits 0-1
const (
	iccStatusActive   = 0x00
	iccStatusInactive = 0x01
	iccStatusAbsent   = 0x02
)

// CCID slot status register: command status in bits 6-7
const (
	cmdStatusSuccess            = 0x00
	cmdStatusFailure            = 0x01
	cmdStatusTimeExtensionReq   = 0x02
)

// Combined SlotStatusRegister byte values, as actually placed on the wire
const (
	slotICCActiveSuccess              = iccStatusActive | cmdStatusSuccess<<6
	slotICCActiveFailure              = iccStatusActive | cmdStatusFailure<<6
	slotICCActiveTimeExtensionReq     = iccStatusActive | cmdStatusTimeExtensionReq<<6
	slotICCInactiveSuccess            = iccStatusInactive | cmdStatusSuccess<<6
	slotICCInactiveFailure            = iccStatusInactive | cmdStatusFailure<<6
	slotICCInactiveTimeExtensionReq   = iccStatusInactive | cmdStatusTimeExtensionReq<<6
	slotICCAbsentSuccess              = iccStatusAbsent | cmdStatusSuccess<<6
	slotICCAbsentFailure              = iccStatusAbsent | cmdStatusFailure<<6
	slotICCAbsentTimeExtensionReq     = iccStatusAbsent | cmdStatusTimeExtensionReq<<6
)

// CCID slot error register named codes (table in §6.5)
const (
	errCommandAbort           = 0xFF
	errICCMute                = 0xFE
	errTransferParityError    = 0xFD
	errTransferOverrun        = 0xFC
	errHardwareError          = 0xFB
	errBadATRTS               = 0xF8
	errBadATRTCK              = 0xF7
	errUnsupportedICCProtocol = 0xF6
	errUnsupportedICCClass    = 0xF5
	errProcedureByteConflict  = 0xF4
	errDeactivatedProtocol    = 0xF3
	errBusyWithAutoSequence   = 0xF2
	errPINTimeout             = 0xF0
	errPINCancelled           = 0xEF
	errCommandSlotBusy        = 0xE0
	errUnsupportedCommand     = 0x00
)

// errInvalidParameter builds an InvalidParameter(n) slot error code,
// n in range 1..=0x7F
func errInvalidParameter(n byte) byte {
	return n
}

// ICC voltage selection, as carried by PC_to_RDR_IccPowerOn
const (
	iccVoltageAuto = 0x00
	iccVoltageV5_0 = 0x01
	iccVoltageV3_0 = 0x02
	iccVoltageV1_8 = 0x03
)

// ICC protocol numbers, as carried by GetParameters/SetParameters
const (
	iccProtocolT0 = 0x00
	iccProtocolT1 = 0x01
)

// ICC clock status, carried by RDR_to_PC_SlotStatus
const (
	iccClockRunning        = 0x00
	iccClockStoppedInL     = 0x01
	iccClockStoppedInH     = 0x02
	iccClockStoppedUnknown = 0x03
)

// ccidMessageTypeName returns a human-readable name for a CCID
// bMessageType byte, used only for logging
func ccidMessageTypeName(t byte) string {
	switch t {
	case ccidPCtoRDR_IccPowerOn:
		return "PC_to_RDR_IccPowerOn"
	case ccidPCtoRDR_IccPowerOff:
		return "PC_to_RDR_IccPowerOff"
	case ccidPCtoRDR_GetSlotStatus:
		return "PC_to_RDR_GetSlotStatus"
	case ccidPCtoRDR_XfrBlock:
		return "PC_to_RDR_XfrBlock"
	case ccidPCtoRDR_GetParameters:
		return "PC_to_RDR_GetParameters"
	case ccidPCtoRDR_ResetParameters:
		return "PC_to_RDR_ResetParameters"
	case ccidPCtoRDR_SetParameters:
		return "PC_to_RDR_SetParameters"
	case ccidPCtoRDR_Escape:
		return "PC_to_RDR_Escape"
	case ccidPCtoRDR_IccClock:
		return "PC_to_RDR_IccClock"
	case ccidPCtoRDR_T0APDU:
		return "PC_to_RDR_T0APDU"
	case ccidPCtoRDR_Secure:
		return "PC_to_RDR_Secure"
	case ccidPCtoRDR_Mechanical:
		return "PC_to_RDR_Mechanical"
	case ccidPCtoRDR_Abort:
		return "PC_to_RDR_Abort"
	case ccidPCtoRDR_SetDataRateAndClockFrequency:
		return "PC_to_RDR_SetDataRateAndClockFrequency"
	case ccidRDRtoPC_DataBlock:
		return "RDR_to_PC_DataBlock"
	case ccidRDRtoPC_SlotStatus:
		return "RDR_to_PC_SlotStatus"
	case ccidRDRtoPC_Parameters:
		return "RDR_to_PC_Parameters"
	case ccidRDRtoPC_Escape:
		return "RDR_to_PC_Escape"
	case ccidRDRtoPC_DataRateAndClockFrequency:
		return "RDR_to_PC_DataRateAndClockFrequency"
	}
	return "Unknown"
}

// leUint32 decodes a 4-byte little-endian unsigned integer
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// putLeUint32 encodes v as a 4-byte little-endian unsigned integer
func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
