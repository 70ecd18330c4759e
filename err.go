/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Common errors
 */

package main

import (
	"errors"
)

// Error values for smredir-relay
var (
	ErrLockIsBusy    = errors.New("Lock is busy")
	ErrShutdown      = errors.New("Shutdown requested")
	ErrBlackListed   = errors.New("Reader is blacklisted")
	ErrInitTimedOut  = errors.New("Reader initialization timed out")
	ErrNoSmredir     = errors.New("smredir-relay daemon not running")
	ErrAccess        = errors.New("Access denied")
	ErrNoReader      = errors.New("No PC/SC reader found")
	ErrNoCompositDev = errors.New("Backing composite USB device not found")
	ErrCardAbsent    = errors.New("Card is absent")
	ErrSlotBusy      = errors.New("Slot is busy")
	ErrBadDescriptor = errors.New("Malformed USB descriptor")
	ErrUnsupported   = errors.New("Request not supported")
	ErrAlreadyAttached = errors.New("USB/IP client already attached")
)
