/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * DNS-SD publisher: system-independent stuff
 */

package main

// DNSSdTxtItem represents a single TXT record item
type DNSSdTxtItem struct {
	Key, Value string
}

// DNSSdTxtRecord represents a TXT record
type DNSSdTxtRecord []DNSSdTxtItem

// Add adds item to DNSSdTxtRecord
func (txt *DNSSdTxtRecord) Add(key, value string) {
	*txt = append(*txt, DNSSdTxtItem{key, value})
}

// IfNotEmpty adds item to DNSSdTxtRecord if its value is not empty.
// It returns true if item was actually added, false otherwise
func (txt *DNSSdTxtRecord) IfNotEmpty(key, value string) bool {
	if value != "" {
		txt.Add(key, value)
		return true
	}
	return false
}

// export converts the TXT record into the []byte-per-item form
// go-avahi's AddService wants
func (txt DNSSdTxtRecord) export() [][]byte {
	exported := make([][]byte, 0, len(txt))
	for _, item := range txt {
		exported = append(exported, []byte(item.Key+"="+item.Value))
	}
	return exported
}

// DNSSdSvcInfo represents a DNS-SD service advertisement
type DNSSdSvcInfo struct {
	Type string         // Service type, i.e. "_usbip._tcp"
	Port int            // TCP port
	Txt  DNSSdTxtRecord // TXT record
}

// DNSSdServices represents a collection of DNS-SD services
type DNSSdServices []DNSSdSvcInfo

// Add appends a DNSSdSvcInfo to the collection
func (services *DNSSdServices) Add(srv DNSSdSvcInfo) {
	*services = append(*services, srv)
}

// DNSSdPublisher publishes the relay's services under a single
// Service Instance Name, for as long as the relay holds the device
type DNSSdPublisher struct {
	Instance string        // Service Instance Name
	Services DNSSdServices // Registered services
	sysdep   *dnssdSysdep  // System-dependent stuff
}

// NewDNSSdPublisher creates a new DNSSdPublisher advertising services
// under the given instance name
func NewDNSSdPublisher(instance string, services DNSSdServices) *DNSSdPublisher {
	return &DNSSdPublisher{
		Instance: instance,
		Services: services,
	}
}

// Publish registers every service with the running Avahi daemon
func (publisher *DNSSdPublisher) Publish() error {
	var err error
	publisher.sysdep, err = newDnssdSysdep(publisher.Instance, publisher.Services)
	return err
}

// Unpublish withdraws every registered service
func (publisher *DNSSdPublisher) Unpublish() {
	if publisher.sysdep != nil {
		publisher.sysdep.Close()
		publisher.sysdep = nil
	}
}
