package coremain

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go4.org/netipx"

	"github.com/openmx/mailmapd/mlog"
	"github.com/openmx/mailmapd/pkg/dict"
	"github.com/openmx/mailmapd/pkg/dict/memdict"
	"github.com/openmx/mailmapd/pkg/probe"
	"github.com/openmx/mailmapd/pkg/proxymap"
	"github.com/openmx/mailmapd/pkg/safe_close"
	"github.com/openmx/mailmapd/pkg/server"
	"github.com/openmx/mailmapd/pkg/verify"
)

var errTablesChanged = errors.New("lookup table changed on disk")

type Mailmapd struct {
	logger *zap.Logger

	httpAPIMux    *http.ServeMux
	httpAPIServer *http.Server

	metricsReg *prometheus.Registry

	servers []*server.Server

	sc *safe_close.SafeClose
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func RunMailmapd(cfg *Config) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	m := &Mailmapd{
		logger:     lg,
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// The verify service is solitary: its read-modify-write cycles assume
	// one instance owns the backing store.
	verifyBlocks := 0
	for _, sc := range cfg.Servers {
		if sc.Service == "verify" {
			verifyBlocks++
		}
	}
	if verifyBlocks > 1 {
		return errors.New("at most one verify server block is allowed")
	}

	for _, serverCfg := range cfg.Servers {
		var handler server.Handler
		var preAccept func() error
		maxUses := serverCfg.MaxUses

		switch serverCfg.Service {
		case "verify":
			svc, volatileMap, err := m.buildVerify(&cfg.Verify)
			if err != nil {
				return fmt.Errorf("failed to init verify service: %w", err)
			}
			if volatileMap {
				// Recycling the process would lose the whole cache.
				maxUses = 0
				serverCfg.IdleTimeout = 0
			}
			handler = svc
		case "proxymap":
			handler = proxymap.NewService(proxymap.ServiceOpts{
				ProxyReadMaps: cfg.Proxymap.ProxyReadMaps,
				IdleTimeout:   time.Duration(serverCfg.IdleTimeout) * time.Second,
				Logger:        lg.Named("proxymap"),
				Registerer:    m.metricsReg,
			})
			// Restart with fresh handles when a table changed on disk.
			preAccept = func() error {
				if dict.Changed() {
					return errTablesChanged
				}
				return nil
			}
		default:
			return fmt.Errorf("unknown service %q", serverCfg.Service)
		}

		for _, lc := range serverCfg.Listeners {
			if err := m.startListener(serverCfg, lc, handler, preAccept, maxUses); err != nil {
				return err
			}
		}
	}

	if len(cfg.API.HTTP) > 0 {
		l, err := net.Listen("tcp", cfg.API.HTTP)
		if err != nil {
			return fmt.Errorf("failed to listen on api addr: %w", err)
		}
		lg.Info("starting api server", zap.Stringer("addr", l.Addr()))
		m.httpAPIServer = &http.Server{Handler: m.httpAPIMux}
		m.sc.Attach(func(_ <-chan struct{}) {
			if err := m.httpAPIServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.sc.SendCloseSignal(safe_close.Reason{
					Service: "api",
					Err:     fmt.Errorf("api server exited: %w", err),
				})
			}
		})
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		sig := <-c
		lg.Info("signal received, exiting", zap.Stringer("signal", sig))
		m.sc.SendCloseSignal(safe_close.Reason{Service: "supervisor"})
	}()

	<-m.sc.ReceiveCloseSignal()
	for _, s := range m.servers {
		s.Close()
	}
	if m.httpAPIServer != nil {
		m.httpAPIServer.Close()
	}
	m.sc.Wait()

	reason := m.sc.Reason()
	if reason.Restart {
		lg.Info("exiting for self-restart", zap.String("service", reason.Service))
	}
	return reason.Err
}

// buildVerify opens the backing store before anything else so a persistent
// map is created before the skeleton drops privileges, then detaches the
// process group so a supervisor stop cannot land in the middle of an
// update.
func (m *Mailmapd) buildVerify(cfg *VerifyConfig) (*verify.Service, bool, error) {
	lg := m.logger.Named("verify")

	table, volatileMap, err := openVerifyTable(cfg)
	if err != nil {
		return nil, false, err
	}
	detachProcessGroup(lg)

	posExp, err := parseDuration(cfg.PositiveExpire, defPositiveExpire)
	if err != nil {
		return nil, false, err
	}
	posTry, err := parseDuration(cfg.PositiveRefresh, defPositiveRefresh)
	if err != nil {
		return nil, false, err
	}
	negExp, err := parseDuration(cfg.NegativeExpire, defNegativeExpire)
	if err != nil {
		return nil, false, err
	}
	negTry, err := parseDuration(cfg.NegativeRefresh, defNegativeRefresh)
	if err != nil {
		return nil, false, err
	}

	submitter, err := newSubmitter(&cfg.Probe)
	if err != nil {
		return nil, false, err
	}

	cache, err := verify.NewCache(verify.CacheOpts{
		Table:           table,
		Submitter:       submitter,
		Sender:          probe.NormalizeSender(cfg.Sender),
		PositiveExpire:  posExp,
		PositiveRefresh: posTry,
		NegativeExpire:  negExp,
		NegativeRefresh: negTry,
		NegativeCache:   cfg.negativeCache(),
		Logger:          lg,
		Registerer:      m.metricsReg,
	})
	if err != nil {
		return nil, false, err
	}

	svc := verify.NewService(verify.ServiceOpts{
		Cache:      cache,
		Logger:     lg,
		Registerer: m.metricsReg,
	})
	return svc, volatileMap, nil
}

// openVerifyTable opens the persistent map with a 022 umask in force, or
// falls back to a volatile in-memory table.
func openVerifyTable(cfg *VerifyConfig) (dict.Dict, bool, error) {
	if len(cfg.Map) == 0 {
		return memdict.New(), true, nil
	}
	var d dict.Dict
	err := withUmask(0o022, func() error {
		var err error
		d, err = dict.Open(cfg.Map, dict.OpenCreate)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return d, false, nil
}

func newSubmitter(cfg *ProbeConfig) (probe.Submitter, error) {
	switch cfg.Transport {
	case "", "maildrop":
		dir := cfg.MaildropDir
		if len(dir) == 0 {
			dir = "/var/spool/mailmapd/maildrop"
		}
		return probe.NewMaildrop(dir), nil
	case "smtp":
		addr := cfg.SMTPAddr
		if len(addr) == 0 {
			addr = "127.0.0.1:25"
		}
		return probe.NewSMTP(addr), nil
	default:
		return nil, fmt.Errorf("unknown probe transport %q", cfg.Transport)
	}
}

func (m *Mailmapd) startListener(
	serverCfg *ServerConfig,
	lc *ListenerConfig,
	handler server.Handler,
	preAccept func() error,
	maxUses int,
) error {
	if len(lc.Addr) == 0 {
		return errors.New("listener addr cannot be empty")
	}

	network := "tcp"
	if lc.UnixDomainSocket {
		network = "unix"
		// A stale socket file from a previous run blocks the bind.
		os.Remove(lc.Addr)
	}
	l, err := net.Listen(network, lc.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", lc.Addr, err)
	}
	if lc.ProxyProtocol {
		l = server.WrapProxyProtocol(l)
	}

	allowed, err := buildIPSet(lc.AllowedClients)
	if err != nil {
		return fmt.Errorf("invalid allowed_clients: %w", err)
	}

	s := server.NewServer(server.ServerOpts{
		Logger:         m.logger,
		Handler:        handler,
		Cert:           lc.Cert,
		Key:            lc.Key,
		IdleTimeout:    time.Duration(serverCfg.IdleTimeout) * time.Second,
		AllowedClients: allowed,
		PreAccept:      preAccept,
		MaxUses:        maxUses,
	})
	m.servers = append(m.servers, s)
	m.logger.Info("starting server",
		zap.String("service", serverCfg.Service),
		zap.Stringer("addr", l.Addr()))

	m.sc.Attach(func(_ <-chan struct{}) {
		err := s.ServeStream(l)
		switch {
		case errors.Is(err, server.ErrServerClosed):
		case errors.Is(err, errTablesChanged):
			m.logger.Info("some lookup table has changed -- restarting")
			m.sc.SendCloseSignal(safe_close.Reason{Service: serverCfg.Service, Restart: true})
		case errors.Is(err, server.ErrMaxUsesReached):
			m.logger.Info("connection budget exhausted -- restarting")
			m.sc.SendCloseSignal(safe_close.Reason{Service: serverCfg.Service, Restart: true})
		default:
			m.sc.SendCloseSignal(safe_close.Reason{
				Service: serverCfg.Service,
				Err:     fmt.Errorf("server exited: %w", err),
			})
		}
	})
	return nil
}

func buildIPSet(cidrs []string) (*netipx.IPSet, error) {
	if len(cidrs) == 0 {
		return nil, nil
	}
	var b netipx.IPSetBuilder
	for _, s := range cidrs {
		if p, err := netip.ParsePrefix(s); err == nil {
			b.AddPrefix(p)
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address or prefix %q", s)
		}
		b.Add(a)
	}
	return b.IPSet()
}
