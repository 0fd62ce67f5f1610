// Package discovery advertises a canvas server on the local network over
// mDNS and finds servers advertised by others.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_canvasflow._tcp"

// A canvas server found on the LAN
type Server struct {
	Instance string
	Addr     string
	Info     []string
}

// Websocket endpoint of the server
func (s Server) URL() string {
	return "ws://" + s.Addr + "/ws"
}

type Advertiser struct {
	server *mdns.Server
}

// Publishes the service until Shutdown. instance defaults to the hostname.
func Advertise(instance string, port int, info ...string) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, []net.IP{firstIPv4()}, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Queries the LAN for canvas servers for up to timeout
func Browse(ctx context.Context, timeout time.Duration) ([]Server, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make([]Server, 0)
	seen := make(map[string]bool)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for e := range entries {
			s, ok := serverFromEntry(e)
			if !ok || seen[s.Addr] {
				continue
			}
			seen[s.Addr] = true
			found = append(found, s)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
		close(entries)
	}()

	select {
	case err := <-errCh:
		<-collected
		if err != nil {
			return nil, fmt.Errorf("mDNS query: %w", err)
		}
		return found, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func serverFromEntry(e *mdns.ServiceEntry) (Server, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Server{}, false
	}
	instance := strings.TrimSuffix(e.Name, "."+ServiceType+".local.")
	return Server{
		Instance: instance,
		Addr:     net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port)),
		Info:     e.InfoFields,
	}, true
}

// Port of a listen address such as ":3000" or "0.0.0.0:3000"
func PortFromAddr(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in %q", addr)
	}
	return port, nil
}

func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}
