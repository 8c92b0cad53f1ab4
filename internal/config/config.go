// Package config loads the service's config.toml: relay connection
// info, the primary key set, and the per-tier rate-limit policy table.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/thesimplekid/contact-group-auth/internal/ratelimit"
	"github.com/thesimplekid/contact-group-auth/pkg/logging"
)

// Policy mirrors ratelimit.Policy in TOML-friendly form: a bare table
// can't carry untyped nil, so absence of a key means unlimited and is
// expressed with pointer fields exactly like the rate limiter's own type.
type Policy struct {
	CanPublish    bool `toml:"can_publish"`
	EventsPerHour *int `toml:"events_per_hour"`
	EventsPerDay  *int `toml:"events_per_day"`
}

// AsRateLimitPolicy converts to the type the rate limiter consumes.
func (p Policy) AsRateLimitPolicy() ratelimit.Policy {
	return ratelimit.Policy{
		CanPublish: p.CanPublish,
		PerHour:    p.EventsPerHour,
		PerDay:     p.EventsPerDay,
	}
}

// Info is the [info] table: the relay this service authorizes for and
// the operator's own identity.
type Info struct {
	RelayURL    string   `toml:"relay_url"`
	NostrKey    string   `toml:"nostr_key"`
	PrimaryKeys []string `toml:"primary_keys"`
}

// Config is the full contents of config.toml.
type Config struct {
	Info       Info   `toml:"info"`
	Primary    Policy `toml:"primary"`
	Secondary  Policy `toml:"secondary"`
	Tertiary   Policy `toml:"tertiary"`
	Quaternary Policy `toml:"quaternary"`
	Other      Policy `toml:"other"`
}

// PolicyFor returns the configured policy for a tier, in rank order
// Primary..Other.
func (c *Config) PolicyFor(rank int) Policy {
	switch rank {
	case 0:
		return c.Primary
	case 1:
		return c.Secondary
	case 2:
		return c.Tertiary
	case 3:
		return c.Quaternary
	default:
		return c.Other
	}
}

// Default returns the fail-safe configuration used when config.toml is
// missing or malformed: every tier denies publish. The service keeps
// running and keeps rejecting events rather than admitting everything
// or refusing to start.
func Default() *Config {
	return &Config{
		Primary:    Policy{CanPublish: false},
		Secondary:  Policy{CanPublish: false},
		Tertiary:   Policy{CanPublish: false},
		Quaternary: Policy{CanPublish: false},
		Other:      Policy{CanPublish: false},
	}
}

// Load reads and parses path. On any error it logs a warning and
// returns Default() rather than failing startup: the service should
// come up deny-by-default instead of not coming up at all.
func Load(path string) *Config {
	log := logging.GetDefault().Component("config")

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("reading config file, falling back to deny-by-default", "path", path, "err", err)
		return Default()
	}

	cfg := &Config{}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		log.Warn("parsing config file, falling back to deny-by-default", "path", path, "err", err)
		return Default()
	}

	return cfg
}
