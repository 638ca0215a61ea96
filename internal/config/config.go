// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and validates the YAML description of a cache
// array under test: its organization, sizing, hash family and
// replacement policy.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ArrayKind names one of the array organizations internal/cachearray
// implements.
type ArrayKind string

const (
	ArraySetAssoc          ArrayKind = "setassoc"
	ArrayZcache            ArrayKind = "zcache"
	ArrayZcachePartitioned ArrayKind = "zcache-partitioned"
	ArraySparse            ArrayKind = "sparse"
)

// PolicyKind names one of the replacement policies internal/replpolicy
// implements.
type PolicyKind string

const (
	PolicyLRU           PolicyKind = "lru"
	PolicyFeedback      PolicyKind = "feedback"
	PolicyFeedbackReuse PolicyKind = "feedback-reused"
	PolicyHawkeye       PolicyKind = "hawkeye"
)

// HashKind names one of the hash families internal/hashfamily implements.
type HashKind string

const (
	HashIdentity HashKind = "identity"
	HashH3       HashKind = "h3"
)

// Array describes the sizing of a single cache array, plus whichever of
// ways/cands/mapSize apply to its Kind.
type Array struct {
	Kind ArrayKind `yaml:"kind"`

	NumSets int `yaml:"numSets"`
	Assoc   int `yaml:"assoc,omitempty"`   // setassoc, sparse
	Ways    int `yaml:"ways,omitempty"`    // zcache, zcache-partitioned
	Cands   int `yaml:"cands,omitempty"`   // zcache, zcache-partitioned
	MapSize int `yaml:"mapSize,omitempty"` // sparse

	Hash     Hash   `yaml:"hash"`
	Policy   Policy `yaml:"policy"`
}

// Hash describes the hash family an array uses.
type Hash struct {
	Kind HashKind `yaml:"kind"`
	Seed uint64   `yaml:"seed,omitempty"` // h3 only
}

// Policy describes the replacement policy an array uses, plus whichever
// tunables apply to its Kind.
type Policy struct {
	Kind PolicyKind `yaml:"kind"`

	// feedback / feedback-reused
	MaxAge          int     `yaml:"maxAge,omitempty"`
	AgeScaling      float64 `yaml:"ageScaling,omitempty"`
	AccsPerInterval int     `yaml:"accsPerInterval,omitempty"`
	EwmaDecay       float64 `yaml:"ewmaDecay,omitempty"`

	// hawkeye
	RRPVBits int `yaml:"rrpvBits,omitempty"`
	Window   int `yaml:"window,omitempty"`
}

// Config is the top-level simulator configuration: one array under
// test, plus the trace to replay against it.
type Config struct {
	Array Array  `yaml:"array"`
	Trace string `yaml:"trace"`
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %q", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config: %q", path)
	}
	return &cfg, nil
}

// Validate checks the invariants internal/cachearray's constructors
// otherwise enforce by panicking: better to report a malformed config
// as an error than to crash deep inside array construction.
func (c *Config) Validate() error {
	a := c.Array
	if a.NumSets <= 0 || a.NumSets&(a.NumSets-1) != 0 {
		return errors.Errorf("array.numSets must be a power of two, got %d", a.NumSets)
	}
	switch a.Kind {
	case ArraySetAssoc:
		if a.Assoc < 1 {
			return errors.Errorf("array.assoc must be >= 1 for %s arrays, got %d", a.Kind, a.Assoc)
		}
	case ArrayZcache, ArrayZcachePartitioned:
		if a.Ways < 2 {
			return errors.Errorf("array.ways must be >= 2 for %s arrays, got %d", a.Kind, a.Ways)
		}
		if a.Cands < a.Ways {
			return errors.Errorf("array.cands must be >= ways for %s arrays, got %d < %d", a.Kind, a.Cands, a.Ways)
		}
	case ArraySparse:
		if a.Assoc < 1 {
			return errors.Errorf("array.assoc must be >= 1 for %s arrays, got %d", a.Kind, a.Assoc)
		}
		if a.MapSize < 2 {
			return errors.Errorf("array.mapSize must be >= 2 for %s arrays, got %d", a.Kind, a.MapSize)
		}
	default:
		return errors.Errorf("array.kind %q is not one of setassoc, zcache, zcache-partitioned, sparse", a.Kind)
	}

	switch a.Policy.Kind {
	case PolicyLRU:
	case PolicyFeedback, PolicyFeedbackReuse:
		if a.Policy.MaxAge < 1 {
			return errors.Errorf("policy.maxAge must be >= 1 for %s policies, got %d", a.Policy.Kind, a.Policy.MaxAge)
		}
		if a.Policy.AgeScaling <= 0 {
			return errors.Errorf("policy.ageScaling must be > 0 for %s policies, got %v", a.Policy.Kind, a.Policy.AgeScaling)
		}
		if a.Policy.AccsPerInterval < 1 {
			return errors.Errorf("policy.accsPerInterval must be >= 1 for %s policies, got %d", a.Policy.Kind, a.Policy.AccsPerInterval)
		}
	case PolicyHawkeye:
		if a.Policy.RRPVBits < 1 {
			return errors.Errorf("policy.rrpvBits must be >= 1 for hawkeye policies, got %d", a.Policy.RRPVBits)
		}
		if a.Policy.Window < 1 {
			return errors.Errorf("policy.window must be >= 1 for hawkeye policies, got %d", a.Policy.Window)
		}
	default:
		return errors.Errorf("policy.kind %q is not one of lru, feedback, feedback-reused, hawkeye", a.Policy.Kind)
	}

	switch a.Hash.Kind {
	case HashIdentity, HashH3:
	default:
		return errors.Errorf("hash.kind %q is not one of identity, h3", a.Hash.Kind)
	}

	if c.Trace == "" {
		return errors.New("trace path must not be empty")
	}
	return nil
}
