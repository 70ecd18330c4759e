//go:build linux || freebsd

/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Network interface index discovery, for restricting DNS-SD
 * advertisement to a single interface
 */

package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/holoplot/go-avahi"
)

// InetInterface resolves a configured interface name to its OS index.
// "all" (the default) means every interface, and maps to Avahi's
// wildcard interface index.
func InetInterface(name string) (int32, error) {
	switch name {
	case "", "all":
		return avahi.InterfaceUnspec, nil
	case "lo", "loopback":
		return Loopback()
	}

	interfaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range interfaces {
			if iface.Name == name {
				return int32(iface.Index), nil
			}
		}
		err = errors.New("not found")
	}

	return 0, fmt.Errorf("inet interface discovery: %s", err)
}

// Loopback returns the index of the first loopback interface found
func Loopback() (int32, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("inet interface discovery: %s", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			return int32(iface.Index), nil
		}
	}

	return 0, errors.New("inet interface discovery: no loopback interface found")
}
