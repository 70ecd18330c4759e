/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Common types for USB
 */

package main

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// UsbAddr represents an USB device address
type UsbAddr struct {
	Bus     int // The bus on which the device was detected
	Address int // The address of the device on the bus
}

// String returns a human-readable representation of UsbAddr
func (addr UsbAddr) String() string {
	return fmt.Sprintf("Bus %.3d Device %.3d", addr.Bus, addr.Address)
}

// Less returns true, if addr is "less" that addr2, for sorting
func (addr UsbAddr) Less(addr2 UsbAddr) bool {
	return addr.Bus < addr2.Bus ||
		(addr.Bus == addr2.Bus && addr.Address < addr2.Address)
}

// UsbAddrList represents a list of USB addresses
//
// For faster lookup and comparable logging, address list
// is always sorted in acceding order. To maintain this
// invariant, never modify list directly, and use the provided
// (*UsbAddrList) Add() function
type UsbAddrList []UsbAddr

// Add UsbAddr to UsbAddrList
func (list *UsbAddrList) Add(addr UsbAddr) {
	// Find the smallest index of address list
	// item which is greater or equal to the
	// newly inserted address
	//
	// Note, of "not found" case sort.Search()
	// returns len(*list)
	i := sort.Search(len(*list), func(n int) bool {
		return !(*list)[n].Less(addr)
	})

	// Check for duplicate
	if i < len(*list) && (*list)[i] == addr {
		return
	}

	// The simple case: all items are less
	// that newly added, so just append new
	// address to the end
	if i == len(*list) {
		*list = append(*list, addr)
		return
	}

	// Insert item in the middle
	*list = append(*list, (*list)[i])
	(*list)[i] = addr
}

// Find address in a list. Returns address index,
// if address is found, -1 otherwise
func (list UsbAddrList) Find(addr UsbAddr) int {
	i := sort.Search(len(list), func(n int) bool {
		return !list[n].Less(addr)
	})

	if i < len(list) && list[i] == addr {
		return i
	}

	return -1
}

// Diff computes a difference between two address lists,
// returning lists of elements to be added and to be removed
// to/from the list to convert it to the list2
func (list UsbAddrList) Diff(list2 UsbAddrList) (added, removed UsbAddrList) {
	// Note, there is no needs to sort added and removed
	// lists, they are already created sorted

	for _, a := range list2 {
		if list.Find(a) < 0 {
			added.Add(a)
		}
	}

	for _, a := range list {
		if list2.Find(a) < 0 {
			removed.Add(a)
		}
	}

	return
}

// UsbIfDesc represents an USB interface descriptor
type UsbIfDesc struct {
	Vendor   uint16 // USB Vendor ID
	Product  uint16 // USB Device ID
	Config   int    // Configuration
	IfNum    int    // Interface number
	Alt      int    // Alternate setting
	Class    int    // Class
	SubClass int    // Subclass
	Proto    int    // Protocol
}

// InterfaceRole classifies a relayed interface by the protocol it
// carries, so the bridge knows which adapter owns it
type InterfaceRole int

// Interface roles
const (
	RoleUnknown InterfaceRole = iota
	RoleCCID                  // Smart-card interface (class 0x0B)
	RoleFIDO                  // U2F/FIDO HID interface (class 0x03)
	RoleWebUSB                // Vendor-specific control interface (class 0xFF)
)

// String returns a human-readable role name
func (r InterfaceRole) String() string {
	switch r {
	case RoleCCID:
		return "ccid"
	case RoleFIDO:
		return "fido"
	case RoleWebUSB:
		return "webusb"
	}
	return "unknown"
}

// Role classifies the interface by its class/subclass/protocol triple
func (ifdesc UsbIfDesc) Role() InterfaceRole {
	switch ifdesc.Class {
	case 0x0B:
		return RoleCCID
	case 0x03:
		return RoleFIDO
	case 0xFF:
		return RoleWebUSB
	}
	return RoleUnknown
}

// UsbDeviceInfo represents USB device information
type UsbDeviceInfo struct {
	// Fields, directly decoded from USB
	Vendor       uint16 // Vendor ID
	Product      uint16 // Device ID
	SerialNumber string // Device serial number
	Manufacturer string // Manufacturer name
	ProductName  string // Product name
	PortNum      int    // USB port number
	Roles        []InterfaceRole
}

// HasRole reports whether the device exposes an interface with the given role
func (info UsbDeviceInfo) HasRole(r InterfaceRole) bool {
	for _, have := range info.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// CheckMissed return a error, if UsbDeviceInfo misses some
// essential parameters.
//
// It check for the following parameters:
//
//   - Manufacturer
//   - ProductName
//   - SerialNumber
//
// If some of them missed, the appropriate error is returned.
func (info UsbDeviceInfo) CheckMissed() error {
	switch {
	case info.Manufacturer == "":
		return errors.New("missed Manufacturer string")
	case info.ProductName == "":
		return errors.New("missed ProductName string")
	case info.SerialNumber == "":
		return errors.New("missed SerialNumber string")
	}

	return nil
}

// MakeAndModel returns device Make and Model as a single
// string
func (info UsbDeviceInfo) MakeAndModel() string {
	mfg := strings.TrimSpace(info.Manufacturer)
	prod := strings.TrimSpace(info.ProductName)

	makeModel := prod
	if mfg != "" && !strings.HasPrefix(prod, mfg) {
		makeModel = mfg + " " + prod
	}

	return makeModel
}

// Ident returns device identification string, suitable as
// persistent state identifier
func (info UsbDeviceInfo) Ident() string {
	id := fmt.Sprintf("%4.4x-%4.4x", info.Vendor, info.Product)

	if info.SerialNumber != "" {
		id += "-" + info.SerialNumber
	}

	if model := info.MakeAndModel(); model != "" {
		id += "-" + model
	}

	id = strings.Map(func(c rune) rune {
		switch {
		case '0' <= c && c <= '9':
		case 'a' <= c && c <= 'z':
		case 'A' <= c && c <= 'Z':
		case c == '-' || c == '_':
		default:
			c = '-'
		}
		return c
	}, id)
	return id
}

// UUID generates a stable device UUID for DNS-SD advertisement
func (info UsbDeviceInfo) UUID() string {
	hash := sha1.New()

	// Arbitrary namespace UUID
	const namespace = "fe678de6-f422-467e-9f83-2354e26c3b41"

	hash.Write([]byte(namespace))
	hash.Write([]byte(info.Ident()))
	uuid := hash.Sum(nil)

	// UUID.Version = 5: Name-based with SHA1; see RFC4122, 4.1.3.
	uuid[6] &= 0x0f
	uuid[6] |= 0x5f

	// UUID.Variant = 0b10: see RFC4122, 4.1.1.
	uuid[8] &= 0x3F
	uuid[8] |= 0x80

	return fmt.Sprintf(
		"%.2x%.2x%.2x%.2x-%.2x%.2x-%.2x%.2x-%.2x%.2x-%.2x%.2x%.2x%.2x%.2x%.2x",
		uuid[0], uuid[1], uuid[2], uuid[3],
		uuid[4], uuid[5], uuid[6], uuid[7],
		uuid[8], uuid[9], uuid[10], uuid[11],
		uuid[12], uuid[13], uuid[14], uuid[15])
}

// Comment returns a short comment, describing a device
func (info UsbDeviceInfo) Comment() string {
	return info.MakeAndModel() + " serial=" + info.SerialNumber
}
