/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * CCID bridge: translates PC_to_RDR bulk commands into PC/SC calls
 * against the physical reader, and queues RDR_to_PC responses for the
 * next Bulk-IN read
 */

package main

import (
	"sync"
)

// CCIDBridge is the stateful translator sitting behind the virtual
// device's CCID bulk endpoints. Only slot 0 exists; at most one card
// handle is held at a time (invariant I1), and WebUSB coordinates
// with it through DropCard (invariant I5).
type CCIDBridge struct {
	lock       sync.Mutex
	log        *Logger
	readerName string
	backend    *PCSCBackend
	card       *PCSCCard
	parameter  []byte // computed once from the ATR; nil if unavailable
	outQueue   [][]byte
	quirks     *Quirks
}

// NewCCIDBridge opens a PC/SC context against readerName and derives
// the T=1 parameter block from whatever ATR is visible at construction
// time, without claiming the card exclusively yet -- the card handle
// itself is acquired lazily, on the first PowerOn. quirks may be nil,
// meaning no per-device overrides apply.
func NewCCIDBridge(readerName string, log *Logger, quirks *Quirks) (*CCIDBridge, error) {
	backend, err := NewPCSCBackend(readerName)
	if err != nil {
		return nil, err
	}

	b := &CCIDBridge{
		log:        log,
		readerName: readerName,
		backend:    backend,
		quirks:     quirks,
	}

	if probe, err := backend.Connect(); err == nil {
		if atr, err := probe.ATR(); err == nil {
			if block, ok := deriveParameterBlock(atr); ok {
				b.parameter = block
				b.applyQuirksToParameter()
			}
		}
		probe.Disconnect(DispositionLeaveCard)
	} else {
		log.Begin().Debug(' ', "CCID: no card present at construction (%s)", err).Commit()
	}

	return b, nil
}

// applyQuirksToParameter clamps the derived T=1 parameter block's
// IFSC byte (TA3, offset 5) to the "max-ifsd" quirk, when the physical
// reader reports a larger value than the override allows
func (b *CCIDBridge) applyQuirksToParameter() {
	if b.quirks == nil || b.parameter == nil {
		return
	}
	if cap := b.quirks.GetMaxIFSD(); cap != 0 && uint(b.parameter[5]) > cap {
		b.parameter[5] = byte(cap)
	}
}

// protocolNum reports the protocol number GetParameters should answer
// with: T=1 normally, or T=0 when the "force-t0" quirk overrides it
func (b *CCIDBridge) protocolNum() byte {
	if b.quirks != nil && b.quirks.GetForceT0() {
		return iccProtocolT0
	}
	return iccProtocolT1
}

// DropCard releases the held card handle, resetting it on release.
// Called on PC_to_RDR_IccPowerOff and by the WebUSB forwarder before
// any vendor control transfer, per invariant I5.
func (b *CCIDBridge) DropCard() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.dropCardLocked()
}

func (b *CCIDBridge) dropCardLocked() {
	if b.card == nil {
		return
	}
	if err := b.card.Disconnect(DispositionResetCard); err != nil {
		b.log.Begin().Error('!', "CCID: failed to disconnect reset card: %s", err).Commit()
	}
	b.card = nil
	b.log.Begin().Debug(' ', "CCID: card disconnected").Commit()
}

// PopResponse drains the next queued response frame for a Bulk-IN
// read, or nil if none is pending (§4.3, rule Q2: Bulk-OUT always
// answers empty, the real response surfaces on the next Bulk-IN).
func (b *CCIDBridge) PopResponse() []byte {
	b.lock.Lock()
	defer b.lock.Unlock()
	if len(b.outQueue) == 0 {
		return nil
	}
	frame := b.outQueue[0]
	b.outQueue = b.outQueue[1:]
	return frame
}

// HandleBulkOut decodes one Bulk-OUT message and queues its response.
// It never returns an error to the USB/IP layer for framing or
// backend failures -- those are always translated into a queued CCID
// error response, per the error handling design.
func (b *CCIDBridge) HandleBulkOut(frame []byte) {
	cmd, cerr := DecodeCommand(frame)
	if cerr != nil {
		if cerr.BadCommand {
			b.log.Begin().Error('!', "CCID: dropping unparsable bulk-out frame").Commit()
			return
		}
		b.queue(NewResponseError(cerr))
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	h := cmd.Header
	msgType := h.MessageType

	if b.card == nil && msgType != ccidPCtoRDR_IccPowerOn &&
		msgType != ccidPCtoRDR_IccPowerOff && msgType != ccidPCtoRDR_GetSlotStatus {
		b.queueLocked(NewResponseWithStatus(h, slotICCAbsentFailure, errInvalidParameter(5)))
		return
	}

	if h.Slot != 0 {
		b.queueLocked(NewResponseWithStatus(h, slotICCAbsentFailure, errInvalidParameter(5)))
		return
	}

	var resp *Response
	switch msgType {
	case ccidPCtoRDR_Abort:
		resp = NewResponse(h)

	case ccidPCtoRDR_GetSlotStatus:
		resp = NewResponse(h)
		if b.card == nil {
			resp = NewResponseWithStatus(h, slotICCInactiveSuccess, errUnsupportedCommand)
		}

	case ccidPCtoRDR_IccPowerOff:
		resp = NewResponseWithStatus(h, slotICCInactiveSuccess, errUnsupportedCommand)
		resp.ClockStatus = iccClockRunning
		b.dropCardLocked()

	case ccidPCtoRDR_IccPowerOn:
		resp = b.powerOnLocked(h)

	case ccidPCtoRDR_XfrBlock:
		resp = b.xfrBlockLocked(h, cmd.Data)

	case ccidPCtoRDR_GetParameters:
		if b.parameter != nil {
			resp = NewResponse(h)
			resp.ProtocolNum = b.protocolNum()
			resp.Append(b.parameter)
		} else {
			resp = NewResponseWithStatus(h, slotICCActiveFailure, errUnsupportedCommand)
		}

	default:
		// Escape, IccClock, Mechanical, ResetParameters, Secure,
		// SetDataRateAndClockFrequency, SetParameters: none of these
		// are implemented against a real reader
		resp = NewResponseWithStatus(h, slotICCActiveFailure, errUnsupportedCommand)
	}

	b.queueLocked(resp)
}

// powerOnLocked implements PC_to_RDR_IccPowerOn: connect if not
// already connected, then report the card's current ATR
func (b *CCIDBridge) powerOnLocked(h CCIDHeader) *Response {
	resp := NewResponse(h)

	if b.card == nil {
		card, err := b.backend.Connect()
		if err != nil {
			b.log.Begin().Debug(' ', "CCID: failed to connect card: %s", err).Commit()
			return NewResponseWithStatus(h, slotICCInactiveFailure, errHardwareError)
		}
		b.card = card
	}

	atr, err := b.card.ATR()
	if err != nil {
		b.log.Begin().Debug(' ', "CCID: failed to get card status: %s", err).Commit()
		return NewResponseWithStatus(h, slotICCInactiveFailure, errHardwareError)
	}

	resp.Append(atr)
	return resp
}

// xfrBlockLocked implements PC_to_RDR_XfrBlock: forward the APDU to
// the card and append its answer, unless the command carried no data
func (b *CCIDBridge) xfrBlockLocked(h CCIDHeader, apdu []byte) *Response {
	resp := NewResponse(h)
	if len(apdu) == 0 {
		return resp
	}

	out, err := b.card.Transmit(apdu)
	if err != nil {
		b.log.Begin().Debug(' ', "CCID: transmit failed: %s", err).Commit()
		resp.Status = slotICCActiveFailure
		resp.SlotError = errCommandSlotBusy
		return resp
	}

	resp.Append(out)
	return resp
}

func (b *CCIDBridge) queue(resp *Response) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.queueLocked(resp)
}

func (b *CCIDBridge) queueLocked(resp *Response) {
	frame := resp.Encode()
	b.outQueue = append(b.outQueue, frame)
	b.log.Begin().CCIDFrame(LogTraceCCID, '<', "IN", int(resp.Header.Slot), frame).Commit()
}

// Close tears down the bridge: drops any held card and releases the
// PC/SC context, in that order, matching the teardown sequence the
// physical-device construction imposes in reverse
func (b *CCIDBridge) Close() {
	b.lock.Lock()
	b.dropCardLocked()
	b.lock.Unlock()

	if err := b.backend.Close(); err != nil {
		b.log.Begin().Error('!', "CCID: failed to release PC/SC context: %s", err).Commit()
	}
}
