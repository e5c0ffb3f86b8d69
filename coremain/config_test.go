package coremain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	r := require.New(t)

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", defPositiveExpire},
		{"300", 300 * time.Second},
		{"3h", 3 * time.Hour},
		{"31d", 31 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"90s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in, defPositiveExpire)
		r.NoError(err, tt.in)
		r.Equal(tt.want, got, tt.in)
	}

	_, err := parseDuration("xd", 0)
	r.Error(err)
	_, err = parseDuration("bogus", 0)
	r.Error(err)
}

func TestNegativeCacheDefault(t *testing.T) {
	r := require.New(t)

	var cfg VerifyConfig
	r.True(cfg.negativeCache())

	off := false
	cfg.NegativeCache = &off
	r.False(cfg.negativeCache())
}

func TestConfigYAML(t *testing.T) {
	r := require.New(t)

	raw := `
log:
  level: debug
servers:
  - service: verify
    listeners:
      - addr: /var/run/mailmapd/verify.sock
        uds: true
  - service: proxymap
    max_uses: 200
    idle_timeout: 100
    listeners:
      - addr: 127.0.0.1:10027
        allowed_clients: ["127.0.0.0/8"]
        proxy_protocol: true
verify:
  address_verify_map: "sqlite:/var/lib/mailmapd/verify.db"
  sender: "<>"
  positive_expire: 31d
  negative_cache: false
proxymap:
  proxy_read_maps: "proxy:texthash:/etc/mailmapd/transport"
`
	cfg := new(Config)
	r.NoError(yaml.Unmarshal([]byte(raw), cfg))
	r.Len(cfg.Servers, 2)
	r.Equal("verify", cfg.Servers[0].Service)
	r.True(cfg.Servers[0].Listeners[0].UnixDomainSocket)
	r.Equal(200, cfg.Servers[1].MaxUses)
	r.True(cfg.Servers[1].Listeners[0].ProxyProtocol)
	r.Equal("sqlite:/var/lib/mailmapd/verify.db", cfg.Verify.Map)
	r.Equal("<>", cfg.Verify.Sender)
	r.False(cfg.Verify.negativeCache())
	r.Equal("proxy:texthash:/etc/mailmapd/transport", cfg.Proxymap.ProxyReadMaps)
}

func TestBuildIPSet(t *testing.T) {
	r := require.New(t)

	set, err := buildIPSet(nil)
	r.NoError(err)
	r.Nil(set)

	set, err = buildIPSet([]string{"127.0.0.0/8", "::1"})
	r.NoError(err)
	r.NotNil(set)

	_, err = buildIPSet([]string{"not-an-ip"})
	r.Error(err)
}
