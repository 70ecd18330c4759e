/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * USB/IP listener
 */

package main

import (
	"net"
	"time"
)

// Listener wraps net.Listener, applying the TCP keepalive settings the
// USB/IP server wants on every accepted connection. Unlike the
// loopback-restricted HTTP listener this began life as, the USB/IP
// listener accepts from wherever Conf.USBIPListenAddr binds it to:
// a usbip client is typically a different host on the network.
type Listener struct {
	net.Listener // Underlying net.Listener
}

// NewListener creates the USB/IP server's net.Listener, bound to
// Conf.USBIPListenAddr
func NewListener() (net.Listener, error) {
	nl, err := net.Listen("tcp", Conf.USBIPListenAddr)
	if err != nil {
		return nil, err
	}

	return Listener{nl}, nil
}

// Accept new connection
func (l Listener) Accept() (net.Conn, error) {
	for {
		// Accept new connection
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		// Obtain underlying net.TCPConn
		tcpconn, ok := conn.(*net.TCPConn)
		if !ok {
			// Should never happen, actually
			conn.Close()
			continue
		}

		// Setup TCP parameters
		tcpconn.SetKeepAlive(true)
		tcpconn.SetKeepAlivePeriod(20 * time.Second)

		return tcpconn, nil
	}
}
