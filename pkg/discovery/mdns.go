// ABOUTME: mDNS discovery of Moshi servers on the local network
// ABOUTME: Browsing for clients, advertisement for servers and tests
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type Moshi servers advertise under.
const ServiceType = "_moshi._tcp"

// ServerInfo describes a discovered server.
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string // WebSocket path, from the service TXT record
}

// URL returns the WebSocket URL for the server.
func (s *ServerInfo) URL() string {
	path := s.Path
	if path == "" {
		path = "/api/chat"
	}
	return fmt.Sprintf("ws://%s:%d%s", s.Host, s.Port, path)
}

// Manager handles mDNS browsing and advertisement.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// NewManager creates a discovery manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces a Moshi server on the local network. Used by
// bridge deployments and integration tests; clients only browse.
func (m *Manager) Advertise(name string, port int, path string) error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		name,
		ServiceType,
		"",
		"",
		port,
		ips,
		[]string{"path=" + path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising %s on port %d as %s", name, port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse starts searching for Moshi servers. Results arrive on
// Servers until Stop is called.
func (m *Manager) Browse() {
	go m.browseLoop()
}

// browseLoop repeatedly queries until the manager is stopped.
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				if entry.AddrV4 == nil {
					continue
				}

				server := &ServerInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
					Path: txtPath(entry.InfoFields),
				}

				log.Printf("Discovered server: %s at %s:%d", server.Name, server.Host, server.Port)

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: 3,
			Entries: entries,
		}

		mdns.Query(params)
		close(entries)
	}
}

// Servers returns the channel of discovered servers.
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop ends browsing and advertisement.
func (m *Manager) Stop() {
	m.cancel()
}

// txtPath extracts the path TXT field, if present.
func txtPath(fields []string) string {
	for _, f := range fields {
		if len(f) > 5 && f[:5] == "path=" {
			return f[5:]
		}
	}
	return ""
}

// localIPs returns the machine's non-loopback IPv4 addresses.
func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			ips = append(ips, ip4)
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable network interfaces")
	}
	return ips, nil
}
