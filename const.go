/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Configuration constants
 */

package main

import (
	"time"
)

const (
	// Version is the program version string
	Version = "1.0"

	// DevInitTimeout specifies how much time to wait for
	// reader/card initialization
	DevInitTimeout = 20 * time.Second

	// DevShutdownTimeout specifies how much time to wait for
	// device graceful shutdown
	DevShutdownTimeout = 5 * time.Second

	// DevInitRetryInterval specifies the retry interval for
	// failed device initialization
	DevInitRetryInterval = 2 * time.Second

	// DNSSdRetryInterval specifies the retry interval in a case
	// of failed DNS-SD operation
	DNSSdRetryInterval = 1 * time.Second

	// PCSCReadTimeout bounds PC/SC status/transmit calls
	PCSCReadTimeout = 5 * time.Second

	// HIDReadTimeout is the non-blocking interrupt IN poll timeout
	HIDReadTimeout = 4 * time.Millisecond

	// USBControlTimeout bounds native USB control transfers
	USBControlTimeout = 5 * time.Second

	// WebUSBBOSFetchTimeout bounds the physical-device BOS descriptor fetch
	WebUSBBOSFetchTimeout = 1 * time.Second

	// CCIDScratchBufferSize is the size of the shared APDU receive buffer
	CCIDScratchBufferSize = 64 * 1024

	// USBIPPort is the fixed listen port for the USB/IP server
	USBIPPort = 3240
)
