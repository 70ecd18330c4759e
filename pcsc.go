/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * PC/SC backend adapter: wraps the pcscd client protocol behind the
 * CCID bridge's card contract (establish_context/connect/status/
 * transmit/disconnect)
 */

package main

import (
	"fmt"
	"sync"

	pcsc "github.com/gballet/go-libpcsclite"
)

// PCSCBackend owns a single pcscd context shared by every connect
// attempt against one physical reader, per the `pcsc_context` lifetime
// in the virtual device state model
type PCSCBackend struct {
	lock       sync.Mutex
	client     *pcsc.Client
	readerName string
}

// NewPCSCBackend establishes a pcscd context scoped to the current
// user session and binds it to one reader name
func NewPCSCBackend(readerName string) (*PCSCBackend, error) {
	client, err := pcsc.EstablishContext(pcsc.ScopeUser)
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	return &PCSCBackend{client: client, readerName: readerName}, nil
}

// Readers lists the reader names currently known to pcscd
func (b *PCSCBackend) Readers() ([]string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.client.ListReaders()
}

// Close releases the pcscd context. Any card handle must already have
// been disconnected by the caller.
func (b *PCSCBackend) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.client.ReleaseContext()
}

// PCSCCard is an exclusively-held connection to the card present in
// the bound reader, opened with the T=1 protocol as required by the
// CCID bridge
type PCSCCard struct {
	backend *PCSCBackend
	card    *pcsc.Card
}

// Connect opens an exclusive T=1 connection to the card in the bound
// reader. Per invariant I1, the caller must guarantee no other
// PCSCCard is concurrently connected to the same reader.
func (b *PCSCBackend) Connect() (*PCSCCard, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	card, err := b.client.Connect(b.readerName, pcsc.ShareExclusive, pcsc.ProtocolT1)
	if err != nil {
		return nil, fmt.Errorf("pcsc: connect %q: %w", b.readerName, err)
	}
	return &PCSCCard{backend: b, card: card}, nil
}

// ATR returns the card's answer-to-reset bytes, as reported when the
// connection was established. pcscd exposes this via the reader
// status attribute rather than a separate call.
func (c *PCSCCard) ATR() ([]byte, error) {
	// The reference client library reports the ATR through the same
	// reader-state descriptor used for hotplug polling; reuse that
	// here rather than duplicating the status wire format.
	return c.card.Status()
}

// Transmit exchanges one APDU with the card over the already
// negotiated protocol
func (c *PCSCCard) Transmit(apdu []byte) ([]byte, error) {
	c.backend.lock.Lock()
	defer c.backend.lock.Unlock()

	resp, _, err := c.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("pcsc: transmit: %w", err)
	}
	return resp, nil
}

// PC/SC disposition values a Disconnect can request
const (
	DispositionLeaveCard   = pcsc.LeaveCard
	DispositionResetCard   = pcsc.ResetCard
	DispositionUnpowerCard = pcsc.UnpowerCard
	DispositionEjectCard   = pcsc.EjectCard
)

// Disconnect releases the card handle. disposition controls whether
// the card is left powered, reset, or unpowered on release, matching
// the CCID PowerOff/Abort semantics that call it.
func (c *PCSCCard) Disconnect(disposition uint32) error {
	c.backend.lock.Lock()
	defer c.backend.lock.Unlock()
	return c.card.Disconnect(disposition)
}
