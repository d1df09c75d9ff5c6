// Package discovery advertises the server on the local network over mDNS
// so LAN clients can find a room host without configuration.
package discovery

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_duoreport._tcp"

// Service is a live mDNS registration.
type Service struct {
	server *zeroconf.Server
}

// Register announces the HTTP port as a DuoReport service instance.
func Register(port int) (*Service, error) {
	host, _ := os.Hostname()
	instance := fmt.Sprintf("DuoReport-%s", host)
	server, err := zeroconf.Register(instance, serviceType, "local.", port, []string{"txtv=0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	slog.Info("mDNS service registered", "instance", instance, "type", serviceType, "port", port)
	return &Service{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (s *Service) Shutdown() {
	s.server.Shutdown()
}
