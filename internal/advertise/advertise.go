// Package advertise announces a running gateway on the local network via
// mDNS/DNS-SD, grounded directly on the teacher's src/dns_sd.go (which
// does the same for its KISS-over-TCP service using the same
// brutella/dnssd package).
package advertise

import (
	"context"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is this protocol's DNS-SD service type, mirroring the
// teacher's "_kiss-tnc._tcp" naming convention.
const ServiceType = "_aloft-gateway._tcp"

// Start announces name on port and responds to mDNS queries until ctx is
// cancelled. Errors are logged, not returned, matching the teacher's
// treatment of DNS-SD as a best-effort convenience rather than something
// that should block startup.
func Start(ctx context.Context, name string, port int, logger *log.Logger) {
	var cfg = dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: ServiceType,
		Port: port,
	}

	svc, err := dnssd.NewService(cfg)
	if err != nil {
		logger.Error("dns-sd: failed to create service", "err", err)
		return
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		logger.Error("dns-sd: failed to create responder", "err", err)
		return
	}

	if _, err := responder.Add(svc); err != nil {
		logger.Error("dns-sd: failed to add service", "err", err)
		return
	}

	logger.Info("dns-sd: announcing gateway", "name", name, "port", port, "type", ServiceType)

	go func() {
		if err := responder.Respond(ctx); err != nil && ctx.Err() == nil {
			logger.Error("dns-sd: responder stopped", "err", err)
		}
	}()
}
