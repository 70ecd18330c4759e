/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Native USB backend adapter: wraps github.com/google/gousb behind the
 * open-by-VID/PID/claim-interface/control-transfer contract the
 * WebUSB forwarder and the FIDO forwarder's descriptor cache use to
 * reach the physical composite device. Grounded on the teacher's own
 * libusb binding (usbaddr.go/libusb.go), adapted from cgo libusb calls
 * to gousb's pure-Go equivalents.
 */

package main

import (
	"fmt"
	"sync"

	"github.com/google/gousb"
)

var (
	usbCtxOnce sync.Once
	usbCtx     *gousb.Context
)

// nativeUSBContext returns the single process-wide gousb context,
// creating it on first use
func nativeUSBContext() *gousb.Context {
	usbCtxOnce.Do(func() {
		usbCtx = gousb.NewContext()
	})
	return usbCtx
}

// Standard control request direction/type bits, reused by both
// forwarders when assembling bmRequestType
const (
	usbDirIn  = 0x80
	usbDirOut = 0x00

	usbTypeStandard = 0x00
	usbTypeVendor   = 0x40

	usbRecipDevice    = 0x00
	usbRecipInterface = 0x01

	usbReqGetDescriptor = 0x06
)

// NativeUSBDevice is a claimed handle to the physical composite token,
// implementing the §6.1 "Native USB" backend contract
type NativeUSBDevice struct {
	lock   sync.Mutex
	dev    *gousb.Device
	cfg    *gousb.Config
	ifaces map[int]*gousb.Interface
}

// OpenNativeUSB opens the first device matching vid/pid
func OpenNativeUSB(vid, pid uint16) (*NativeUSBDevice, error) {
	ctx := nativeUSBContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, fmt.Errorf("native usb: open %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("native usb: %04x:%04x not found", vid, pid)
	}
	return &NativeUSBDevice{dev: dev, ifaces: make(map[int]*gousb.Interface)}, nil
}

// ActiveConfiguration reports the device's currently active
// configuration number
func (n *NativeUSBDevice) ActiveConfiguration() (int, error) {
	return n.dev.ActiveConfigNum()
}

// Descriptors returns the device's parsed descriptor tree, as gousb
// decoded it at enumeration time
func (n *NativeUSBDevice) Descriptors() *gousb.DeviceDesc {
	return n.dev.Desc
}

// Interfaces returns every interface descriptor of the device's
// active configuration
func (n *NativeUSBDevice) Interfaces() ([]gousb.InterfaceDesc, error) {
	cfgNum, err := n.dev.ActiveConfigNum()
	if err != nil {
		return nil, err
	}
	cfgDesc, ok := n.dev.Desc.Configs[cfgNum]
	if !ok {
		return nil, fmt.Errorf("native usb: no descriptor for active config %d", cfgNum)
	}
	ifaces := make([]gousb.InterfaceDesc, 0, len(cfgDesc.Interfaces))
	for _, ifc := range cfgDesc.Interfaces {
		ifaces = append(ifaces, ifc)
	}
	return ifaces, nil
}

// ClaimInterface claims interface num on the active configuration,
// detaching the kernel driver first if one is attached. Repeat calls
// for an already-claimed interface are a no-op.
func (n *NativeUSBDevice) ClaimInterface(num int) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, ok := n.ifaces[num]; ok {
		return nil
	}

	if n.cfg == nil {
		cfgNum, err := n.dev.ActiveConfigNum()
		if err != nil {
			return fmt.Errorf("native usb: active config: %w", err)
		}
		cfg, err := n.dev.Config(cfgNum)
		if err != nil {
			return fmt.Errorf("native usb: select config %d: %w", cfgNum, err)
		}
		n.cfg = cfg
	}

	intf, err := n.cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("native usb: claim interface %d: %w", num, err)
	}
	n.ifaces[num] = intf
	return nil
}

// ControlIn issues an IN control transfer and returns up to
// len(buf) bytes of the device's reply
func (n *NativeUSBDevice) ControlIn(rType, request uint8, value, index uint16, buf []byte) (int, error) {
	return n.dev.Control(rType|usbDirIn, request, value, index, buf)
}

// ControlOut issues an OUT control transfer, sending data verbatim
func (n *NativeUSBDevice) ControlOut(rType, request uint8, value, index uint16, data []byte) error {
	_, err := n.dev.Control(rType&^usbDirIn, request, value, index, data)
	return err
}

// GetDescriptor issues a standard GET_DESCRIPTOR request against the
// device, returning up to len(buf) bytes of raw descriptor data
func (n *NativeUSBDevice) GetDescriptor(descType, index uint8, lang uint16, buf []byte) (int, error) {
	value := uint16(descType)<<8 | uint16(index)
	return n.dev.Control(usbDirIn|usbTypeStandard|usbRecipDevice, usbReqGetDescriptor, value, lang, buf)
}

// UsbAddr returns the bus/address pair gousb assigned the device at
// enumeration time
func (n *NativeUSBDevice) UsbAddr() UsbAddr {
	return UsbAddr{Bus: n.dev.Desc.Bus, Address: n.dev.Desc.Address}
}

// UsbDeviceInfo fetches the device's string descriptors and classifies
// its interfaces, assembling the information the rest of the relay
// identifies and advertises the token by
func (n *NativeUSBDevice) UsbDeviceInfo() (UsbDeviceInfo, error) {
	info := UsbDeviceInfo{
		Vendor:  uint16(n.dev.Desc.Vendor),
		Product: uint16(n.dev.Desc.Product),
		PortNum: n.dev.Desc.Port,
	}

	var err error

	info.Manufacturer, err = n.dev.Manufacturer()
	if err != nil {
		return UsbDeviceInfo{}, fmt.Errorf("native usb: manufacturer string: %w", err)
	}

	info.ProductName, err = n.dev.Product()
	if err != nil {
		return UsbDeviceInfo{}, fmt.Errorf("native usb: product string: %w", err)
	}

	info.SerialNumber, err = n.dev.SerialNumber()
	if err != nil {
		return UsbDeviceInfo{}, fmt.Errorf("native usb: serial string: %w", err)
	}

	ifaces, err := n.Interfaces()
	if err != nil {
		return UsbDeviceInfo{}, err
	}

	seen := make(map[InterfaceRole]bool)
	for _, ifc := range ifaces {
		desc := UsbIfDesc{
			Vendor:   info.Vendor,
			Product:  info.Product,
			IfNum:    ifc.Number,
			Class:    int(ifc.AltSettings[0].Class),
			SubClass: int(ifc.AltSettings[0].SubClass),
			Proto:    int(ifc.AltSettings[0].Protocol),
		}
		role := desc.Role()
		if role != RoleUnknown && !seen[role] {
			seen[role] = true
			info.Roles = append(info.Roles, role)
		}
	}

	return info, nil
}

// Close releases every claimed interface, the active configuration
// handle, and the device handle itself, in that order
func (n *NativeUSBDevice) Close() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	for num, intf := range n.ifaces {
		intf.Close()
		delete(n.ifaces, num)
	}
	if n.cfg != nil {
		n.cfg.Close()
		n.cfg = nil
	}
	return n.dev.Close()
}
