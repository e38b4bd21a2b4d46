// Package discovery advertises the glasses on the LAN over mDNS so a
// companion or caregiver app can find the device without any
// configuration. Only advertisement lives on the device; browsing is
// the app's side.
package discovery

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the mDNS service type browsed by companion apps.
	ServiceType = "_glasses._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultHealthPort is advertised when no health port is configured.
	DefaultHealthPort = 8080

	// maxInstanceNameLen is the DNS label limit.
	maxInstanceNameLen = 63
)

// TXT record keys.
const (
	txtKeyDeviceID = "id"
	txtKeyFirmware = "fw"
	txtKeyPort     = "hp"
	txtKeyBroker   = "broker"
	txtKeyStatus   = "st"
)

// Info is what the advertisement carries: enough for an app to reach
// the health endpoint and join the right broker.
type Info struct {
	DeviceID   string
	Firmware   string
	HealthPort int
	Broker     string // optional, empty when MQTT is off
	Status     string // healthy, degraded, unhealthy
}

// Advertiser owns the zeroconf registration.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
	info   Info
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Advertise registers the service, replacing any prior registration.
func (a *Advertiser) Advertise(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := info.HealthPort
	if port == 0 {
		port = DefaultHealthPort
		info.HealthPort = port
	}

	server, err := zeroconf.Register(
		instanceName(info.DeviceID),
		ServiceType,
		Domain,
		port,
		encodeTXT(info),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("failed to register mdns service: %w", err)
	}

	a.server = server
	a.info = info
	return nil
}

// UpdateStatus refreshes only the health state in the TXT records.
// Callers use it when the pipeline transitions between health states.
func (a *Advertiser) UpdateStatus(status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return fmt.Errorf("not advertising")
	}
	a.info.Status = status
	a.server.SetText(encodeTXT(a.info))
	return nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func instanceName(deviceID string) string {
	name := deviceID
	if name == "" {
		name = "glasses"
	}
	if len(name) > maxInstanceNameLen {
		name = name[:maxInstanceNameLen]
	}
	return name
}

func encodeTXT(info Info) []string {
	txt := []string{
		txtKeyDeviceID + "=" + info.DeviceID,
		txtKeyFirmware + "=" + info.Firmware,
		txtKeyPort + "=" + strconv.Itoa(info.HealthPort),
		txtKeyStatus + "=" + info.Status,
	}
	if info.Broker != "" {
		txt = append(txt, txtKeyBroker+"="+info.Broker)
	}
	return txt
}
