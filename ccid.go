/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * CCID bulk message framing codec: decode of PC_to_RDR commands,
 * encode of RDR_to_PC responses
 */

package main

import "fmt"

// CCIDHeader holds the fields shared by every CCID bulk message: the
// first 7 bytes of its 10-byte header
type CCIDHeader struct {
	MessageType byte
	Length      uint32
	Slot        byte
	Seq         byte
}

// decodeCCIDHeader reads the 10-byte header from frame
func decodeCCIDHeader(frame []byte) (CCIDHeader, bool) {
	if len(frame) < ccidHeaderSize {
		return CCIDHeader{}, false
	}
	return CCIDHeader{
		MessageType: frame[0],
		Length:      leUint32(frame[1:5]),
		Slot:        frame[5],
		Seq:         frame[6],
	}, true
}

func (h CCIDHeader) encode(out []byte) []byte {
	out = append(out, h.MessageType)
	var lbuf [4]byte
	putLeUint32(lbuf[:], h.Length)
	out = append(out, lbuf[:]...)
	out = append(out, h.Slot, h.Seq)
	return out
}

// CCIDError is returned by DecodeCommand for malformed commands.
//
// BadCommand means the frame was too short to even carry a header and
// must be silently dropped, per spec: no CCID-shaped response is
// possible without a header to echo back.
//
// Otherwise Header/Status/SlotError carry a ready-to-encode error
// response.
type CCIDError struct {
	BadCommand bool
	Header     CCIDHeader
	Status     byte
	SlotError  byte
}

func (e *CCIDError) Error() string {
	if e.BadCommand {
		return "CCID: bad command frame"
	}
	return fmt.Sprintf("CCID: command error, status=%#x error=%#x",
		e.Status, e.SlotError)
}

func newCommandError(h CCIDHeader, status, slotErr byte) *CCIDError {
	return &CCIDError{Header: h, Status: status, SlotError: slotErr}
}

// Command is a decoded PC_to_RDR message. Not every field applies to
// every MessageType; see DecodeCommand for which fields are populated
// for which type.
type Command struct {
	Header           CCIDHeader
	PowerSelect      byte
	ProtocolNum      byte
	ClockCommand     byte
	ClassChange      byte
	ClassGetResponse byte
	ClassEnvelope    byte
	Function         byte
	BWI              byte
	LevelParameter   uint16
	ClockFrequency   uint32
	DataRate         uint32
	Data             []byte
}

// DecodeCommand decodes one PC_to_RDR bulk message.
//
// Per §4.1 of the framing contract: fewer than 10 bytes yields
// BadCommand; an unknown message type or any other command error code
// yields a formed CommandError; trailing bytes beyond the declared
// payload are rejected.
func DecodeCommand(frame []byte) (*Command, *CCIDError) {
	h, ok := decodeCCIDHeader(frame)
	if !ok {
		return nil, &CCIDError{BadCommand: true}
	}

	// frame[7:10] carries the 3 message-specific bytes that complete
	// the fixed 10-byte header (their meaning varies per MessageType);
	// frame[10:] carries the variable-length payload, if any
	specific := frame[7:ccidHeaderSize]
	body := frame[ccidHeaderSize:]
	cmd := &Command{Header: h}

	fixedShape := func() *CCIDError {
		if h.Length != 0 {
			return newCommandError(h, slotICCInactiveFailure, errInvalidParameter(1))
		}
		return nil
	}

	switch h.MessageType {
	case ccidPCtoRDR_IccPowerOn:
		if err := fixedShape(); err != nil {
			return nil, err
		}
		cmd.PowerSelect = specific[0]
		if cmd.PowerSelect > iccVoltageV1_8 {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(7))
		}

	case ccidPCtoRDR_IccPowerOff, ccidPCtoRDR_GetSlotStatus,
		ccidPCtoRDR_GetParameters, ccidPCtoRDR_ResetParameters,
		ccidPCtoRDR_Abort:
		if err := fixedShape(); err != nil {
			return nil, err
		}

	case ccidPCtoRDR_XfrBlock, ccidPCtoRDR_Secure:
		cmd.BWI = specific[0]
		cmd.LevelParameter = uint16(specific[1]) | uint16(specific[2])<<8
		if uint32(len(body)) < h.Length {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(1))
		}
		cmd.Data = append([]byte(nil), body[:h.Length]...)
		body = body[h.Length:]

	case ccidPCtoRDR_SetParameters:
		cmd.ProtocolNum = specific[0]
		if cmd.ProtocolNum > iccProtocolT1 {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(7))
		}
		if uint32(len(body)) < h.Length {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(1))
		}
		cmd.Data = append([]byte(nil), body[:h.Length]...)
		body = body[h.Length:]

	case ccidPCtoRDR_Escape:
		if uint32(len(body)) < h.Length {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(1))
		}
		cmd.Data = append([]byte(nil), body[:h.Length]...)
		body = body[h.Length:]

	case ccidPCtoRDR_IccClock:
		if err := fixedShape(); err != nil {
			return nil, err
		}
		cmd.ClockCommand = specific[0]
		if cmd.ClockCommand > 1 {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(7))
		}

	case ccidPCtoRDR_T0APDU:
		if err := fixedShape(); err != nil {
			return nil, err
		}
		cmd.ClassChange = specific[0]
		if cmd.ClassChange > 3 {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(7))
		}
		cmd.ClassGetResponse = specific[1]
		cmd.ClassEnvelope = specific[2]

	case ccidPCtoRDR_Mechanical:
		if err := fixedShape(); err != nil {
			return nil, err
		}
		cmd.Function = specific[0]
		if cmd.Function < 1 || cmd.Function > 5 {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(7))
		}

	case ccidPCtoRDR_SetDataRateAndClockFrequency:
		if h.Length != 8 {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(1))
		}
		if len(body) < 8 {
			return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(0xa))
		}
		cmd.ClockFrequency = leUint32(body[0:4])
		cmd.DataRate = leUint32(body[4:8])
		body = body[8:]

	default:
		return nil, newCommandError(h, slotICCActiveFailure, errUnsupportedCommand)
	}

	if len(body) != 0 {
		return nil, newCommandError(h, slotICCInactiveFailure, errInvalidParameter(1))
	}

	return cmd, nil
}

// Response is an encoded-on-demand RDR_to_PC message.
type Response struct {
	Header         CCIDHeader
	Status         byte
	SlotError      byte
	ChainParameter byte
	ProtocolNum    byte
	ClockStatus    byte
	ClockFrequency uint32
	DataRate       uint32
	Data           []byte
}

// responseTypeFor maps a PC_to_RDR message type to its RDR_to_PC
// response type, per the table in §4.1
func responseTypeFor(cmdType byte) (byte, bool) {
	switch cmdType {
	case ccidPCtoRDR_IccPowerOn, ccidPCtoRDR_XfrBlock, ccidPCtoRDR_Secure:
		return ccidRDRtoPC_DataBlock, true
	case ccidPCtoRDR_IccPowerOff, ccidPCtoRDR_GetSlotStatus, ccidPCtoRDR_IccClock,
		ccidPCtoRDR_T0APDU, ccidPCtoRDR_Mechanical, ccidPCtoRDR_Abort:
		return ccidRDRtoPC_SlotStatus, true
	case ccidPCtoRDR_GetParameters, ccidPCtoRDR_ResetParameters, ccidPCtoRDR_SetParameters:
		return ccidRDRtoPC_Parameters, true
	case ccidPCtoRDR_SetDataRateAndClockFrequency:
		return ccidRDRtoPC_DataRateAndClockFrequency, true
	case ccidPCtoRDR_Escape:
		return ccidRDRtoPC_Escape, true
	}
	return 0, false
}

// NewResponse builds the default success response shape for a decoded
// command, keyed by the command's header
func NewResponse(h CCIDHeader) *Response {
	return NewResponseWithStatus(h, slotICCActiveSuccess, errUnsupportedCommand)
}

// NewResponseWithStatus builds a response of the shape implied by
// h.MessageType, with the given status/error already applied. When
// status signals Failure with error UnsupportedCommand, the shape
// collapses to the bare "unsupported command" response regardless of
// what h.MessageType would otherwise imply
func NewResponseWithStatus(h CCIDHeader, status, slotErr byte) *Response {
	r := &Response{
		Header:      h,
		Status:      status,
		SlotError:   slotErr,
		ClockStatus: iccClockRunning,
		ProtocolNum: iccProtocolT1,
	}
	r.Header.Length = 0

	commandFailed := status&0xC0>>6 == cmdStatusFailure
	if commandFailed && slotErr == errUnsupportedCommand {
		// Echo the originating command's type byte rather than
		// zeroing it; Encode's default case doesn't recognize it as
		// any RDR_to_PC shape and falls back to the bare trailer
		return r
	}

	rtype, ok := responseTypeFor(h.MessageType)
	if !ok {
		r.Header.MessageType = 0
		r.Status = slotICCActiveFailure
		r.SlotError = errUnsupportedCommand
		return r
	}
	r.Header.MessageType = rtype
	return r
}

// NewResponseError builds a response entirely from a CCIDError
func NewResponseError(e *CCIDError) *Response {
	return NewResponseWithStatus(e.Header, e.Status, e.SlotError)
}

// Append appends trailing data to the response and updates
// Header.Length to match, for response shapes that carry a data
// payload (DataBlock, Parameters, Escape)
func (r *Response) Append(data []byte) {
	switch r.Header.MessageType {
	case ccidRDRtoPC_DataBlock, ccidRDRtoPC_Parameters, ccidRDRtoPC_Escape:
		r.Data = append(r.Data, data...)
		r.Header.Length += uint32(len(data))
	}
}

// Encode serializes the response to its on-wire byte representation
func (r *Response) Encode() []byte {
	out := make([]byte, 0, ccidHeaderSize+2+len(r.Data)+8)
	out = r.Header.encode(out)
	out = append(out, r.Status, r.SlotError)

	switch r.Header.MessageType {
	case ccidRDRtoPC_DataBlock:
		out = append(out, r.ChainParameter)
		out = append(out, r.Data...)
	case ccidRDRtoPC_SlotStatus:
		out = append(out, r.ClockStatus)
	case ccidRDRtoPC_Parameters:
		out = append(out, r.ProtocolNum)
		out = append(out, r.Data...)
	case ccidRDRtoPC_Escape:
		out = append(out, r.Data...)
	case ccidRDRtoPC_DataRateAndClockFrequency:
		var buf [8]byte
		putLeUint32(buf[0:4], r.DataRate)
		putLeUint32(buf[4:8], r.ClockFrequency)
		out = append(out, buf[:]...)
	default:
		out = append(out, 0x00)
	}

	return out
}
