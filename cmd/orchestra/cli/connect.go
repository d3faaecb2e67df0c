// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/orchestra/lib/config"
	"github.com/bureau-foundation/orchestra/lib/service"
)

// ControllerConnection holds the flags that locate the controller
// socket. Network and Address override the configuration file.
type ControllerConnection struct {
	ConfigPath string
	Network    string
	Address    string
	Timeout    time.Duration
}

// AddFlags registers --config, --network, --address and --timeout.
func (c *ControllerConnection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.ConfigPath, "config", "", "path to orchestra.yaml (default: $ORCHESTRA_CONFIG)")
	flagSet.StringVar(&c.Network, "network", "", "controller socket network (default: from config)")
	flagSet.StringVar(&c.Address, "address", "", "controller socket address (default: from config)")
	flagSet.DurationVar(&c.Timeout, "timeout", 30*time.Second, "time limit for the controller call")
}

// LoadConfig reads and validates the configuration named by --config
// or $ORCHESTRA_CONFIG, falling back to defaults when neither is set.
func (c *ControllerConnection) LoadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if c.ConfigPath != "" {
		cfg, err = config.LoadFile(c.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, Validation("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Endpoint resolves the controller socket from flags, then config.
func (c *ControllerConnection) Endpoint() (network, address string, err error) {
	network, address = c.Network, c.Address
	if network == "" || address == "" {
		cfg, err := c.LoadConfig()
		if err != nil {
			return "", "", err
		}
		if network == "" {
			network = cfg.Controller.Network
		}
		if address == "" {
			address = cfg.Controller.Address
		}
	}
	return network, address, nil
}

// Call performs one controller action within the configured timeout.
// Dial failures come back as transient errors and controller-side
// rejections keep their message.
func (c *ControllerConnection) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	network, address, err := c.Endpoint()
	if err != nil {
		return err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	client := service.NewClient(network, address)
	err = client.Call(ctx, action, fields, result)
	if err == nil {
		return nil
	}

	var serviceErr *service.ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Transient("controller not reachable at %s %s: %w", network, address, err)
	}
	return err
}
