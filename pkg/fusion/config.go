// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// GRAPHFUSER_CONFIG is the environment variable with the default fusion configuration.
// See ParseConfig for its format.
const GRAPHFUSER_CONFIG = "GRAPHFUSER_CONFIG"

// Policy selects how the partitioner groups supported instructions.
type Policy int

const (
	// PolicyFusion groups connected supported instructions into the same partition.
	PolicyFusion Policy = iota

	// PolicyDebug gives each supported instruction its own partition.
	PolicyDebug
)

func (p Policy) String() string {
	switch p {
	case PolicyFusion:
		return "fusion"
	case PolicyDebug:
		return "debug"
	default:
		return "Policy(?)"
	}
}

// ParsePolicy converts "fusion" or "debug" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "fusion":
		return PolicyFusion, nil
	case "debug":
		return PolicyDebug, nil
	}
	return PolicyFusion, errors.Errorf("unknown fusion policy %q, valid values are \"fusion\" or \"debug\"", s)
}

// Config of a fusion run.
type Config struct {
	// Policy used by the partitioner.
	Policy Policy

	// HorizontalFusion also groups supported instructions that only share inputs.
	HorizontalFusion bool

	// Verify lints the graph after every change, and panics on the first inconsistency.
	Verify bool

	// SkipCanonicalization disables common subexpression and dead code elimination after
	// fusion.
	SkipCanonicalization bool
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	parts := []string{"policy=" + c.Policy.String()}
	if c.HorizontalFusion {
		parts = append(parts, "horizontal")
	}
	if c.Verify {
		parts = append(parts, "verify")
	}
	if c.SkipCanonicalization {
		parts = append(parts, "nocanon")
	}
	return strings.Join(parts, ",")
}

// ParseConfig parses a comma-separated list of options:
//
//   - "policy=fusion" or "policy=debug": see Policy.
//   - "horizontal": see Config.HorizontalFusion.
//   - "verify": see Config.Verify.
//   - "nocanon": see Config.SkipCanonicalization.
//
// Empty options are ignored, so "" returns the default configuration.
func ParseConfig(config string) (Config, error) {
	var c Config
	for _, opt := range strings.Split(config, ",") {
		opt = strings.TrimSpace(opt)
		key, value, hasValue := strings.Cut(opt, "=")
		switch key {
		case "":
			continue
		case "policy":
			if !hasValue {
				return c, errors.Errorf("fusion config %q: option \"policy\" requires a value", config)
			}
			var err error
			c.Policy, err = ParsePolicy(value)
			if err != nil {
				return c, errors.WithMessagef(err, "fusion config %q", config)
			}
			continue
		case "horizontal":
			c.HorizontalFusion = true
		case "verify":
			c.Verify = true
		case "nocanon":
			c.SkipCanonicalization = true
		default:
			return c, errors.Errorf("fusion config %q: unknown option %q", config, key)
		}
		if hasValue {
			return c, errors.Errorf("fusion config %q: option %q takes no value", config, key)
		}
	}
	return c, nil
}

// ConfigFromEnv parses the configuration in the environment variable GRAPHFUSER_CONFIG,
// or returns the default configuration if it is not set.
func ConfigFromEnv() (Config, error) {
	config, found := os.LookupEnv(GRAPHFUSER_CONFIG)
	if !found {
		return Config{}, nil
	}
	c, err := ParseConfig(config)
	if err != nil {
		return c, errors.WithMessagef(err, "parsing $%s", GRAPHFUSER_CONFIG)
	}
	return c, nil
}

// Option modifies the Config of a fusion run.
type Option func(c *Config)

// WithConfig replaces the whole configuration.
func WithConfig(config Config) Option {
	return func(c *Config) { *c = config }
}

// WithVerify enables or disables linting the graph after every change.
func WithVerify(verify bool) Option {
	return func(c *Config) { c.Verify = verify }
}

// WithCanonicalization enables or disables the common subexpression and dead code elimination
// run after fusion. It is enabled by default.
func WithCanonicalization(enabled bool) Option {
	return func(c *Config) { c.SkipCanonicalization = !enabled }
}

func makeConfig(opts []Option) Config {
	var c Config
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
