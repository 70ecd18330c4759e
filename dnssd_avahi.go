//go:build linux

/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * DNS-SD, Avahi-based system-dependent part
 */

package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/holoplot/go-avahi"
)

// dnssdSysdep holds the live D-Bus connection and Avahi entry group
// backing one published DNSSdPublisher
type dnssdSysdep struct {
	conn   *dbus.Conn
	server *avahi.Server
	group  *avahi.EntryGroup
}

// newDnssdSysdep registers services with the system Avahi daemon over
// D-Bus, under the given instance name
func newDnssdSysdep(instance string, services DNSSdServices) (*dnssdSysdep, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("avahi: dbus connect: %w", err)
	}

	server, err := avahi.ServerNew(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("avahi: server: %w", err)
	}

	group, err := server.EntryGroupNew()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("avahi: entry group: %w", err)
	}

	iface, err := InetInterface(Conf.DNSSdInterface)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("avahi: %w", err)
	}

	proto := int32(avahi.ProtoUnspec)

	for _, svc := range services {
		err = group.AddService(iface, proto, 0, instance, svc.Type, "", "",
			uint16(svc.Port), svc.Txt.export())
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("avahi: add service %s: %w", svc.Type, err)
		}
	}

	if err = group.Commit(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("avahi: commit: %w", err)
	}

	return &dnssdSysdep{conn: conn, server: server, group: group}, nil
}

// Close withdraws every registered service and releases the D-Bus
// connection
func (sd *dnssdSysdep) Close() {
	if sd.group != nil {
		sd.group.Reset()
		sd.group.Free()
	}
	if sd.conn != nil {
		sd.conn.Close()
	}
}
