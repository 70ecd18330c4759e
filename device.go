/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Device object brings all parts together
 */

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
)

// Device object brings all parts together, namely:
//   - the physical composite token, opened over native USB
//   - the CCID, FIDO and WebUSB interface bridges
//   - the virtual device they back, and the USB/IP server exposing it
//   - the DNS-SD advertiser
//
// There is exactly one instance of Device, matching the relay's
// single-composite-device model
type Device struct {
	UsbAddr        UsbAddr         // Physical device's USB address
	Info           UsbDeviceInfo   // Physical device's identity
	ReaderName     string          // PC/SC reader name being relayed
	State          *DevState       // Persistent state
	Phys           *NativeUSBDevice // Physical composite token
	Virtual        *VirtualDevice  // Virtual device multiplexer
	Server         *USBIPServer    // USB/IP server
	DNSSdPublisher *DNSSdPublisher // DNS-SD publisher
	Log            *Logger         // Device's logger

	listener net.Listener
}

// NewDevice opens the physical composite token identified by vid/pid,
// relays the PC/SC reader matching Conf.ReaderNameFilter through it,
// and starts serving USB/IP and (if enabled) DNS-SD advertising
func NewDevice(vid, pid uint16) (*Device, error) {
	dev := &Device{}

	var err error
	var ccid *CCIDBridge
	var fido *FIDOForwarder
	var webusb *WebUSBForwarder
	var readers []string
	var quirks *Quirks
	defaultClock, maxClock, dataRate, maxDataRate := uint32(0), uint32(0), uint32(0), uint32(0)

	// Open the physical token
	dev.Phys, err = OpenNativeUSB(vid, pid)
	if err != nil {
		goto ERROR
	}

	dev.Info, err = dev.Phys.UsbDeviceInfo()
	if err != nil {
		goto ERROR
	}
	dev.UsbAddr = dev.Phys.UsbAddr()

	// Obtain device's logger
	dev.Log = NewLogger().ToDevFile(dev.Info)
	dev.Log.SetLevels(Conf.LogDevice)
	dev.Log.Cc(Conf.LogConsole, Console)

	// Load persistent state
	dev.State = LoadDevState(dev.Info.Ident(), dev.Info.Comment())

	// Resolve quirks applicable to this token, HWID match taking
	// priority over a model-name match
	quirks = Conf.Quirks.MatchByHWID(vid, pid)
	for _, q := range Conf.Quirks.MatchByModelName(dev.Info.MakeAndModel()).All() {
		if quirks.byName[q.Name] == nil {
			quirks.put(q)
		}
	}
	quirks.WriteLog("quirks", dev.Log)

	if quirks.GetBlacklist() {
		err = ErrBlackListed
		goto ERROR
	}

	// Resolve the PC/SC reader to relay
	dev.ReaderName, readers, err = resolveReaderName(Conf.ReaderNameFilter)
	if err != nil {
		goto ERROR
	}

	// Claim the FIDO and WebUSB interfaces directly; the CCID
	// interface is relayed through pcscd rather than claimed here
	if dev.Info.HasRole(RoleFIDO) {
		fido, err = NewFIDOForwarder(vid, pid, dev.Phys)
		if err != nil {
			goto ERROR
		}
	}

	if dev.Info.HasRole(RoleWebUSB) {
		webusb, err = NewWebUSBForwarder(dev.Phys, ifaceWebUSB)
		if err != nil {
			goto ERROR
		}
	}

	ccid, err = NewCCIDBridge(dev.ReaderName, dev.Log, quirks)
	if err != nil {
		goto ERROR
	}

	// Borrow the virtual CCID descriptor's clock/rate window from the
	// physical reader's own CCID class descriptor, falling back to fixed
	// 4 MHz / 9600 bps values when that descriptor cannot be read
	defaultClock, maxClock, dataRate, maxDataRate, err = fetchPhysicalCCIDClocks(dev.Phys)
	if err != nil {
		dev.Log.Begin().Debug(' ', "device: %s, using built-in clock/rate defaults", err).Commit()
		defaultClock, maxClock, dataRate, maxDataRate = 4000000, 4000000, 9600, 9600
		err = nil
	}

	dev.Virtual = NewVirtualDevice(dev.Log, ccid, fido, webusb, quirks,
		defaultClock, maxClock, dataRate, maxDataRate)

	// Create the USB/IP listener and server
	dev.listener, err = NewListener()
	if err != nil {
		goto ERROR
	}

	dev.Server = NewUSBIPServer(dev.Log, dev.Virtual)
	go dev.Server.Serve(dev.listener)

	// Advertise over DNS-SD
	if Conf.DNSSdEnable {
		dev.DNSSdPublisher = NewDNSSdPublisher(dev.Info.MakeAndModel(),
			dev.dnssdServices())
		err = dev.DNSSdPublisher.Publish()
		if err != nil {
			dev.Log.Error('!', "DNS-SD: %s", err)
			err = nil
		}
	}

	dev.Log.Begin().Info('+', "device: relaying %q (reader %q) at %s, found among %d readers",
		dev.Info.MakeAndModel(), dev.ReaderName, Conf.USBIPListenAddr, len(readers)).Commit()

	StatusSet(dev.UsbAddr, dev.Info, dev.ReaderName, nil)

	return dev, nil

ERROR:
	StatusSet(dev.UsbAddr, dev.Info, dev.ReaderName, err)

	if dev.listener != nil {
		dev.listener.Close()
	}
	if ccid != nil {
		ccid.Close()
	}
	if fido != nil {
		fido.Close()
	}
	if webusb != nil {
		webusb.Close()
	}
	if dev.Phys != nil {
		dev.Phys.Close()
	}

	return nil, err
}

// dnssdServices builds the TXT-annotated USB/IP service advertisement
// for this device
func (dev *Device) dnssdServices() DNSSdServices {
	var services DNSSdServices

	svc := DNSSdSvcInfo{Type: Conf.DNSSdServiceType, Port: USBIPPort}
	svc.Txt.Add("busid", relayBusID)
	svc.Txt.Add("vendor", fmt.Sprintf("%4.4x", dev.Info.Vendor))
	svc.Txt.Add("product", fmt.Sprintf("%4.4x", dev.Info.Product))
	svc.Txt.IfNotEmpty("serial", dev.Info.SerialNumber)
	svc.Txt.IfNotEmpty("reader", dev.ReaderName)

	services.Add(svc)
	return services
}

// resolveReaderName lists readers known to pcscd and returns the one
// matching filter, the most specific glob match winning. An empty
// filter matches the first (and normally only) reader reported.
func resolveReaderName(filter string) (name string, readers []string, err error) {
	if filter == "" {
		filter = "*"
	}

	probe, err := NewPCSCBackend("")
	if err != nil {
		return "", nil, err
	}
	defer probe.Close()

	readers, err = probe.Readers()
	if err != nil {
		return "", nil, err
	}

	best := -1
	for _, r := range readers {
		if w := GlobMatch(r, filter); w > best {
			best = w
			name = r
		}
	}

	if best < 0 {
		return "", readers, ErrNoReader
	}

	return name, readers, nil
}

// fetchPhysicalCCIDClocks fetches the physical token's configuration
// descriptor and extracts the CCID class descriptor's clock/rate
// window (§6.3), the same layout built by [CCIDDescriptor]
func fetchPhysicalCCIDClocks(phys *NativeUSBDevice) (defaultClock, maxClock, dataRate, maxDataRate uint32, err error) {
	head := make([]byte, 9)
	if _, err = phys.GetDescriptor(descTypeConfiguration, 0, 0, head); err != nil {
		return
	}

	total := int(binary.LittleEndian.Uint16(head[2:4]))
	if total < 9 {
		err = fmt.Errorf("native usb: implausible configuration descriptor length %d", total)
		return
	}

	full := make([]byte, total)
	if _, err = phys.GetDescriptor(descTypeConfiguration, 0, 0, full); err != nil {
		return
	}

	return parseCCIDClocksFromConfig(full)
}

// parseCCIDClocksFromConfig scans a raw USB configuration descriptor
// for its CCID class descriptor and extracts the clock/rate window
func parseCCIDClocksFromConfig(full []byte) (defaultClock, maxClock, dataRate, maxDataRate uint32, err error) {
	for i := 0; i+1 < len(full); {
		length := int(full[i])
		if length < 2 || i+length > len(full) {
			break
		}

		if full[i+1] == descTypeCCID && length >= 27 {
			defaultClock = binary.LittleEndian.Uint32(full[i+10 : i+14])
			maxClock = binary.LittleEndian.Uint32(full[i+14 : i+18])
			dataRate = binary.LittleEndian.Uint32(full[i+19 : i+23])
			maxDataRate = binary.LittleEndian.Uint32(full[i+23 : i+27])
			return
		}

		i += length
	}

	err = fmt.Errorf("native usb: no CCID class descriptor in configuration")
	return
}

// Shutdown gracefully shuts down the device. If provided context
// expires before the shutdown is complete, Shutdown returns the
// context's error
func (dev *Device) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		dev.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases every resource the Device holds
func (dev *Device) Close() {
	StatusDel()

	if dev.DNSSdPublisher != nil {
		dev.DNSSdPublisher.Unpublish()
		dev.DNSSdPublisher = nil
	}

	if dev.listener != nil {
		dev.listener.Close()
		dev.listener = nil
	}

	if dev.Virtual != nil {
		dev.Virtual.Close()
		dev.Virtual = nil
	}

	if dev.Phys != nil {
		dev.Phys.Close()
		dev.Phys = nil
	}
}
