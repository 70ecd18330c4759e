/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Status support: a snapshot of the single relayed device, queried by
 * the "status" run mode over the control socket
 */

package main

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"sync"
)

// statusOfDevice represents the relay's one relayed device
type statusOfDevice struct {
	addr       UsbAddr
	info       UsbDeviceInfo
	readerName string
	attached   bool
	init       error
}

var (
	// statusCurrent holds the relayed device's status, nil before
	// the device has been opened
	statusCurrent *statusOfDevice

	// statusLock protects access to statusCurrent
	statusLock sync.RWMutex
)

// StatusRetrieve connects to the running smredir-relay daemon,
// retrieves its status and returns it as a printable text
func StatusRetrieve() ([]byte, error) {
	t := &http.Transport{
		Dial: func(network, addr string) (net.Conn, error) {
			return CtrlsockDial()
		},
	}

	c := &http.Client{
		Transport: t,
	}

	rsp, err := c.Get("http://localhost/status")
	if err != nil {
		return nil, err
	}

	defer rsp.Body.Close()

	return ioutil.ReadAll(rsp.Body)
}

// StatusFormat formats smredir-relay status as a text
func StatusFormat() []byte {
	buf := &bytes.Buffer{}

	statusLock.RLock()
	defer statusLock.RUnlock()

	fmt.Fprintf(buf, "smredir-relay daemon %s: running\n", Version)

	if statusCurrent == nil {
		buf.WriteString("device: not found\n")
		return buf.Bytes()
	}

	s := statusCurrent
	fmt.Fprintf(buf, "device: %s\n", s.addr)
	fmt.Fprintf(buf, "  vendor:product: %4.4x:%.4x\n", s.info.Vendor, s.info.Product)
	fmt.Fprintf(buf, "  model:          %q\n", s.info.MakeAndModel())
	fmt.Fprintf(buf, "  serial:         %s\n", s.info.SerialNumber)
	fmt.Fprintf(buf, "  reader:         %q\n", s.readerName)
	fmt.Fprintf(buf, "  listen:         %s\n", Conf.USBIPListenAddr)

	attached := "no"
	if s.attached {
		attached = "yes"
	}
	fmt.Fprintf(buf, "  usbip client attached: %s\n", attached)

	status := "OK"
	if s.init != nil {
		status = s.init.Error()
	}
	fmt.Fprintf(buf, "  status:         %s\n", status)

	return buf.Bytes()
}

// StatusSet records the relayed device in the status table
func StatusSet(addr UsbAddr, info UsbDeviceInfo, readerName string, init error) {
	statusLock.Lock()
	statusCurrent = &statusOfDevice{
		addr:       addr,
		info:       info,
		readerName: readerName,
		init:       init,
	}
	statusLock.Unlock()
}

// StatusSetAttached updates the reported USB/IP attachment state
func StatusSetAttached(attached bool) {
	statusLock.Lock()
	if statusCurrent != nil {
		statusCurrent.attached = attached
	}
	statusLock.Unlock()
}

// StatusDel clears the relayed device from the status table
func StatusDel() {
	statusLock.Lock()
	statusCurrent = nil
	statusLock.Unlock()
}
