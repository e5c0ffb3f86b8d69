package coremain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openmx/mailmapd/mlog"
)

type Config struct {
	Log      mlog.LogConfig  `yaml:"log"`
	Include  []string        `yaml:"include"`
	Servers  []*ServerConfig `yaml:"servers"`
	Verify   VerifyConfig    `yaml:"verify"`
	Proxymap ProxymapConfig  `yaml:"proxymap"`
	API      APIConfig       `yaml:"api"`
}

type ServerConfig struct {
	// Service selects what runs behind the listeners: "verify" or
	// "proxymap".
	Service string `yaml:"service"`

	Listeners []*ListenerConfig `yaml:"listeners"`

	// MaxUses recycles the serving process after this many connections.
	// Zero means unlimited. Forced to zero when the verify service runs
	// on a volatile map, recycling would lose the whole cache.
	MaxUses int `yaml:"max_uses"`

	// IdleTimeout (sec) for client connections.
	IdleTimeout uint `yaml:"idle_timeout"`
}

type ListenerConfig struct {
	// Addr: "host:port", or a filesystem path when uds is set.
	// Addr cannot be empty.
	Addr string `yaml:"addr"`

	// UnixDomainSocket: server addr is uds.
	UnixDomainSocket bool `yaml:"uds"`

	Cert           string   `yaml:"cert"`
	Key            string   `yaml:"key"`
	ProxyProtocol  bool     `yaml:"proxy_protocol"`  // accepting the PROXYProtocol
	AllowedClients []string `yaml:"allowed_clients"` // CIDR list; empty allows everyone
}

type VerifyConfig struct {
	// Map is the backing store reference ("sqlite:/path", "redis:addr",
	// "pgsql:dsn"). Empty keeps the cache in volatile memory.
	Map string `yaml:"address_verify_map"`

	// Sender of probe messages. "" or "<>" is the null sender.
	Sender string `yaml:"sender"`

	PositiveExpire  string `yaml:"positive_expire"`
	PositiveRefresh string `yaml:"positive_refresh"`
	NegativeExpire  string `yaml:"negative_expire"`
	NegativeRefresh string `yaml:"negative_refresh"`

	// NegativeCache persists non-OK probe results. Default true.
	NegativeCache *bool `yaml:"negative_cache"`

	Probe ProbeConfig `yaml:"probe"`
}

type ProbeConfig struct {
	// Transport: "maildrop" (default) or "smtp".
	Transport   string `yaml:"transport"`
	MaildropDir string `yaml:"maildrop_dir"`
	SMTPAddr    string `yaml:"smtp_addr"`
}

type ProxymapConfig struct {
	// ProxyReadMaps is the whitespace-separated list of approved
	// "proxy:type:name" references.
	ProxyReadMaps string `yaml:"proxy_read_maps"`
}

type APIConfig struct {
	HTTP string `yaml:"http"`
}

// Defaults for the verification cache timers.
const (
	defPositiveExpire  = 31 * 24 * time.Hour
	defPositiveRefresh = 7 * 24 * time.Hour
	defNegativeExpire  = 3 * 24 * time.Hour
	defNegativeRefresh = 3 * time.Hour
)

// parseDuration accepts Go duration strings plus the mail-config suffixes
// d (days) and w (weeks); a bare number is seconds. Empty yields def.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if len(s) == 0 {
		return def, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if strings.HasSuffix(s, "d") || strings.HasSuffix(s, "w") {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit := 24 * time.Hour
		if strings.HasSuffix(s, "w") {
			unit = 7 * 24 * time.Hour
		}
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func (c *VerifyConfig) negativeCache() bool {
	if c.NegativeCache == nil {
		return true
	}
	return *c.NegativeCache
}
