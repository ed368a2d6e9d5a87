package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/agentdir/admission"
	"github.com/vinayprograms/agentdir/bus"
	"github.com/vinayprograms/agentdir/config"
	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/discovery"
	"github.com/vinayprograms/agentdir/federation"
	"github.com/vinayprograms/agentdir/gateway"
	"github.com/vinayprograms/agentdir/logging"
	"github.com/vinayprograms/agentdir/negotiation"
	"github.com/vinayprograms/agentdir/security"
	"github.com/vinayprograms/agentdir/storage"
	"github.com/vinayprograms/agentdir/trust"
)

// maintenanceInterval paces the service's own sweep, which today only
// reaps expired negotiation sessions.
const maintenanceInterval = time.Minute

// closer lets the service tear down backends it owns without caring
// which concrete type sits behind the port.
type closer interface {
	Close() error
}

// Service wires one directory node together: directory, trust engine,
// discovery, admission, negotiation, invocation gateway, and optional
// federation, all over shared storage and event bus. It owns every
// background loop; Stop joins them all.
type Service struct {
	cfg config.Config
	log *logging.Logger

	Events      bus.EventBus
	Directory   *directory.Directory
	Trust       *trust.Engine
	Discovery   *discovery.Engine
	Limiter     *admission.Limiter
	PoW         *admission.PoW
	Negotiation *negotiation.Coordinator
	Gateway     *gateway.Gateway
	Federation  *federation.Synchronizer

	oracle   *security.Oracle
	store    directory.Store
	semantic discovery.SemanticIndex

	metricsMu sync.Mutex
	metrics   map[string]*AgentMetrics

	indexSub bus.Subscription
	indexWG  sync.WaitGroup

	stopCh chan struct{}
	doneCh chan struct{}

	started bool
}

// New builds a service from configuration. Nothing starts running until
// Start is called.
func New(cfg config.Config) (*Service, error) {
	log := logging.New()
	log.SetLevel(parseLevel(cfg.Logging.Level))
	if cfg.Node.ID != "" {
		log = log.WithNodeID(cfg.Node.ID)
	}

	events, err := buildBus(cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(cfg)
	if err != nil {
		events.Close()
		return nil, err
	}

	oracle := security.NewOracle()

	dir, err := directory.New(directory.Config{
		Store:         store,
		Verifier:      oracle,
		Events:        events,
		Logger:        log,
		RequireSigned: cfg.Directory.RequireSigned,
		StaleAfter:    cfg.Directory.StaleAfter.Std(),
		SweepInterval: cfg.Directory.SweepInterval.Std(),
	})
	if err != nil {
		closeQuietly(store)
		events.Close()
		return nil, err
	}

	trustEngine := trust.NewEngine(dir, trust.Config{
		DecayInterval: cfg.Trust.DecayInterval.Std(),
		FlushInterval: cfg.Trust.FlushInterval.Std(),
		Logger:        log,
	})
	dir.SetTrust(trustEngine)

	semantic, err := buildSemanticIndex(cfg)
	if err != nil {
		closeQuietly(store)
		events.Close()
		return nil, err
	}

	disc, err := discovery.NewEngine(discovery.Config{
		Directory: dir,
		Trust:     trustEngine,
		Semantic:  semantic,
		Logger:    log,
		CacheSize: cfg.Discovery.CacheSize,
	})
	if err != nil {
		semantic.Close()
		closeQuietly(store)
		events.Close()
		return nil, err
	}
	dir.OnMutation(disc.InvalidateCache)

	limiter := admission.NewLimiter(admission.LimiterConfig{
		DefaultQPS:         cfg.Admission.DefaultQPS,
		DefaultConcurrency: cfg.Admission.DefaultConcurrency,
		Trust:              trustEngine,
		Logger:             log,
	})
	pow := admission.NewPoW(admission.PoWConfig{
		Difficulty: cfg.Admission.PoWDifficulty,
		TTL:        cfg.Admission.PoWTTL.Std(),
	})

	negotiator := negotiation.NewCoordinator(negotiation.Config{
		TTL:    cfg.Negotiation.SessionTTL.Std(),
		Events: events,
		Logger: log,
	})

	gw := gateway.New(map[directory.Protocol]gateway.Transport{
		directory.ProtocolHTTP: gateway.NewHTTPTransport(gateway.HTTPConfig{
			Timeout: cfg.Gateway.HTTPTimeout.Std(),
		}),
		directory.ProtocolA2A: gateway.NewHTTPTransport(gateway.HTTPConfig{
			Timeout: cfg.Gateway.HTTPTimeout.Std(),
		}),
		directory.ProtocolMCP: gateway.NewHTTPTransport(gateway.HTTPConfig{
			Timeout: cfg.Gateway.HTTPTimeout.Std(),
		}),
		directory.ProtocolWebSocket: gateway.NewWSTransport(gateway.WSConfig{
			HandshakeTimeout: cfg.Gateway.WSHandshake.Std(),
			ResponseTimeout:  cfg.Gateway.WSResponse.Std(),
		}),
	}, log)

	svc := &Service{
		cfg:         cfg,
		log:         log.WithComponent("service"),
		Events:      events,
		Directory:   dir,
		Trust:       trustEngine,
		Discovery:   disc,
		Limiter:     limiter,
		PoW:         pow,
		Negotiation: negotiator,
		Gateway:     gw,
		oracle:      oracle,
		store:       store,
		semantic:    semantic,
		metrics:     make(map[string]*AgentMetrics),
	}

	if cfg.Federation.Enabled {
		svc.Federation = federation.NewSynchronizer(dir, federation.Config{
			SelfURL:  cfg.Node.SelfURL,
			Peers:    cfg.Federation.Peers,
			Interval: cfg.Federation.SyncInterval.Std(),
			Client: federation.NewHTTPPeerClient(federation.HTTPPeerConfig{
				Timeout: cfg.Federation.PullTimeout.Std(),
			}),
			Events: events,
			Logger: log,
		})
	}

	svc.seedSemanticIndex()
	return svc, nil
}

func buildBus(cfg config.Config) (bus.EventBus, error) {
	switch cfg.Bus.Backend {
	case "nats":
		return bus.NewNATSBus(bus.NATSConfig{
			Config: bus.Config{BufferSize: cfg.Bus.BufferSize},
			URL:    cfg.Bus.URL,
			Name:   "agentdir-" + cfg.Node.ID,
		})
	default:
		return bus.NewMemoryBus(bus.Config{BufferSize: cfg.Bus.BufferSize}), nil
	}
}

func buildStore(cfg config.Config) (directory.Store, error) {
	switch cfg.Storage.Backend {
	case "bolt":
		return storage.OpenBolt(cfg.Storage.Path)
	default:
		return storage.NewMemoryStore(), nil
	}
}

func buildSemanticIndex(cfg config.Config) (discovery.SemanticIndex, error) {
	if cfg.Discovery.IndexPath != "" {
		return discovery.OpenBleveIndex(cfg.Discovery.IndexPath)
	}
	return discovery.NewBleveIndex()
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func closeQuietly(v interface{}) {
	if c, ok := v.(closer); ok {
		c.Close()
	}
}

// seedSemanticIndex loads every restored record into the semantic index
// so a restart does not serve an empty index.
func (s *Service) seedSemanticIndex() {
	for _, rec := range s.Directory.Snapshot() {
		if err := s.semantic.Index(rec.ID, rec.SemanticText()); err != nil {
			s.log.Warn("semantic seed failed", map[string]interface{}{
				"agent_id": rec.ID, "error": err.Error(),
			})
		}
	}
}

// Start launches every background loop. Calling Start twice is an error.
func (s *Service) Start() error {
	if s.started {
		return fmt.Errorf("service already started")
	}

	sub, err := s.Events.Subscribe(
		bus.EventAgentRegistered,
		bus.EventAgentUpdated,
		bus.EventAgentDeregistered,
	)
	if err != nil {
		return fmt.Errorf("subscribe for semantic indexing: %w", err)
	}
	s.indexSub = sub
	s.indexWG.Add(1)
	go s.indexLoop()

	s.Directory.StartSweeper()
	s.Trust.Start()
	if s.Federation != nil {
		s.Federation.Start()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.maintenanceLoop()
	s.started = true

	s.log.Info("service started", map[string]interface{}{
		"storage": s.cfg.Storage.Backend,
		"bus":     s.cfg.Bus.Backend,
		"agents":  s.Directory.Stats().TotalAgents,
	})
	return nil
}

// Stop joins every loop, flushes trust scores, and closes the backends.
func (s *Service) Stop() {
	if !s.started {
		return
	}
	s.started = false

	if s.Federation != nil {
		s.Federation.Stop()
	}
	s.Trust.Stop()
	s.Directory.StopSweeper()

	close(s.stopCh)
	<-s.doneCh

	s.indexSub.Unsubscribe()
	s.indexWG.Wait()

	s.semantic.Close()
	closeQuietly(s.store)
	s.Events.Close()

	s.log.Info("service stopped")
}

// maintenanceLoop runs the service's own periodic chores. Negotiation
// expiry is reaped here and nowhere else.
func (s *Service) maintenanceLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Negotiation.CleanupExpired(); n > 0 {
				s.log.Debug("reaped expired sessions", map[string]interface{}{"count": n})
			}
		case <-s.stopCh:
			return
		}
	}
}

// indexLoop mirrors directory mutations into the semantic index.
func (s *Service) indexLoop() {
	defer s.indexWG.Done()

	for ev := range s.indexSub.Events() {
		switch ev.Type {
		case bus.EventAgentDeregistered:
			if err := s.semantic.Remove(ev.AgentID); err != nil {
				s.log.Warn("semantic remove failed", map[string]interface{}{
					"agent_id": ev.AgentID, "error": err.Error(),
				})
			}
		default:
			rec, ok := s.Directory.Get(ev.AgentID)
			if !ok {
				continue
			}
			if err := s.semantic.Index(rec.ID, rec.SemanticText()); err != nil {
				s.log.Warn("semantic index failed", map[string]interface{}{
					"agent_id": rec.ID, "error": err.Error(),
				})
			}
		}
	}
}
