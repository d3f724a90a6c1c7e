package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	appscanning "github.com/scanops/sentinel/internal/app/scanning"
	"github.com/scanops/sentinel/internal/domain/scanning"
)

// registerPlugins is the single place scan plugins are wired into the binary.
// Registration is explicit: there is no dynamic discovery, so the set of
// runnable plugins is fixed at build time.
func registerPlugins(registry *appscanning.PluginRegistry) error {
	if err := registry.Register("tcp-probe", &tcpProbePlugin{}); err != nil {
		return err
	}
	return nil
}

// tcpProbeConfig is the job configuration accepted by the tcp-probe plugin.
type tcpProbeConfig struct {
	// Targets are host:port addresses to probe.
	Targets []string `json:"targets"`

	// DialTimeout bounds each individual probe. Defaults to 3s.
	DialTimeout time.Duration `json:"dial_timeout"`
}

// tcpProbePlugin is the built-in connectivity probe. It exists so a deployment
// has at least one working plugin out of the box and doubles as a smoke test
// for the orchestration path: progress reporting, findings, and cancellation.
type tcpProbePlugin struct{}

var _ scanning.Plugin = (*tcpProbePlugin)(nil)

func (p *tcpProbePlugin) Validate(config json.RawMessage) error {
	var cfg tcpProbeConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("parsing tcp-probe config: %w", err)
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("tcp-probe config requires at least one target")
	}
	for _, target := range cfg.Targets {
		if _, _, err := net.SplitHostPort(target); err != nil {
			return fmt.Errorf("invalid target %q: %w", target, err)
		}
	}
	return nil
}

func (p *tcpProbePlugin) Execute(ctx context.Context, config json.RawMessage, report scanning.ProgressFunc) ([]scanning.FindingSpec, error) {
	var cfg tcpProbeConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("parsing tcp-probe config: %w", err)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	var specs []scanning.FindingSpec
	for i, target := range cfg.Targets {
		if err := ctx.Err(); err != nil {
			return specs, err
		}

		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			conn.Close()
			specs = append(specs, scanning.FindingSpec{
				Kind:            scanning.FindingKindInformational,
				Title:           "tcp port open",
				Description:     fmt.Sprintf("connection to %s succeeded", target),
				Severity:        "info",
				Target:          target,
				Confidence:      1.0,
				Discoverability: 10,
			})
		}

		report(float64(i+1)/float64(len(cfg.Targets)), fmt.Sprintf("probed %s", target))
	}
	return specs, nil
}
