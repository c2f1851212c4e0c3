package events

import (
	"go.uber.org/zap"

	"github.com/overstory/overstory/internal/common/logger"
	"github.com/overstory/overstory/internal/config"
	"github.com/overstory/overstory/internal/events/bus"
)

// ProvideBus selects the live bus implementation: NATS when a URL is
// configured, in-memory otherwise. A failed NATS connection degrades to
// memory with a warning rather than failing startup.
func ProvideBus(cfg *config.Config, log *logger.Logger) bus.EventBus {
	if cfg.NATS.URL == "" {
		return bus.NewMemoryEventBus(log)
	}
	natsBus, err := bus.NewNATSEventBus(bus.NATSConfig{
		URL:           cfg.NATS.URL,
		ClientID:      cfg.NATS.ClientID,
		MaxReconnects: cfg.NATS.MaxReconnects,
	}, log)
	if err != nil {
		log.Warn("NATS unavailable, falling back to in-memory bus",
			zap.String("url", cfg.NATS.URL), zap.Error(err))
		return bus.NewMemoryEventBus(log)
	}
	return natsBus
}
