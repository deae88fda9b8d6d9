package core

import (
	"fmt"

	"qnc/config"
	"qnc/internal/capability"
	qerrors "qnc/internal/errors"
	"qnc/internal/metrics"
	"qnc/internal/resolver"
	"qnc/internal/transport"
	"qnc/util"
)

// Build constructs the appropriate Mode from the given configuration.
// It is the single dispatch point over the protocol selector.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	res := resolver.New(cfg.ResolvConf, logger)

	if cfg.ResolveOnly {
		return &ResolveMode{
			Resolver: res,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Timeout:  cfg.Timeout,
			Logger:   logger,
		}, nil
	}

	bind, err := buildBind(cfg, logger)
	if err != nil {
		return nil, err
	}

	sup := transport.NewSupervisor(logger)
	m := metrics.New()
	return &Pipeline{
		Resolver: res,
		Connector: &transport.Connector{
			Bind:       bind,
			Supervisor: sup,
			Logger:     logger,
			Linger:     cfg.Linger,
		},
		Supervisor: sup,
		Capability: &capability.Relay{Metrics: m},
		Host:       cfg.Host,
		Port:       cfg.Port,
		ServerName: cfg.ServerName,
		Timeout:    cfg.Timeout,
		Logger:     logger,
		Metrics:    m,
	}, nil
}

// buildBind selects the endpoint factory for the configured protocol.
func buildBind(cfg *config.Config, logger *util.Logger) (transport.BindFunc, error) {
	switch cfg.Protocol {
	case config.ProtocolQUIC:
		tlsConf, err := transport.NewTLSConfig(transport.TLSOptions{
			ALPN:     cfg.ALPN,
			CAFile:   cfg.CAFile,
			Insecure: cfg.Insecure,
		})
		if err != nil {
			return nil, &qerrors.ConfigError{
				Field:   "ca-file",
				Value:   cfg.CAFile,
				Message: err.Error(),
				Hint:    "pass a PEM bundle containing the server's issuing CA",
			}
		}
		opts := &transport.QUICOptions{
			TLS:       tlsConf,
			KeepAlive: cfg.KeepAlive,
			Logger:    logger,
		}
		return opts.BindQUIC, nil
	default:
		return nil, fmt.Errorf("%w %q", qerrors.ErrUnsupportedProtocol, cfg.Protocol)
	}
}
