// Package ledger implements the ledger side of settlement: the protobuf
// transaction codec, signature verification, a transfer builder and the
// gateways that submit transactions.
package ledger

import (
	"fmt"

	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewGateway returns the relay gateway when a relay url is configured and
// the simulated ledger otherwise
func NewGateway(cfg *config.LedgerConfig, logger *zap.Logger) (settlement.Gateway, error) {
	network, err := settlement.ParseNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}

	if cfg.RelayURL == "" {
		logger.Warn("No ledger relay configured, using the simulated ledger",
			zap.String("network", network.String()),
		)
		return NewSimulatedGateway(network,
			WithLatency(cfg.SimulatedLatency),
			WithSimulatedLogger(logger.Named("simulated-ledger")),
		), nil
	}

	g, err := NewRelayGateway(RelayConfig{
		BaseURL:         cfg.RelayURL,
		Network:         network,
		RequestTimeout:  cfg.RequestTimeout,
		PollInterval:    cfg.PollInterval,
		BreakerMaxFails: cfg.BreakerMaxFails,
		BreakerOpenFor:  cfg.BreakerOpenFor,
	}, logger.Named("ledger-relay"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger relay: %w", err)
	}
	logger.Info("Ledger relay configured",
		zap.String("network", network.String()),
		zap.String("relay_url", cfg.RelayURL),
	)
	return g, nil
}
