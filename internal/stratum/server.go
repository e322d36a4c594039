package stratum

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"solopool/internal/config"
	"solopool/internal/metrics"
	"solopool/internal/vardiff"
)

// PortListener is one configured Stratum listening port and its connected
// sessions.
type PortListener struct {
	port       int
	portCfg    config.Port
	ln         net.Listener
	vd         *vardiff.Controller
	sessionsMu sync.Mutex
	sessions   map[*Session]struct{}
}

// Server owns one listener per configured port and fans job broadcasts out
// to every authorized session, per spec.md §4.4/§4.7.
type Server struct {
	cfg config.Config
	js  JobSource

	connectionTimeout time.Duration
	minDiffAdjust     bool
	tcpProxyProtocol  bool
	authorizeFn       AuthorizeFunc
	metrics           metrics.Recorder
	log               func(format string, args ...any)

	mu        sync.Mutex
	shutting  bool
	listeners []*PortListener
	waitGroup sync.WaitGroup
}

// NewServer builds a Server from the pool's port configuration. authorizeFn
// may be nil, in which case every worker is authorized (spec.md §4.4's
// default policy for a solo pool with no account database).
func NewServer(cfg config.Config, js JobSource, authorizeFn AuthorizeFunc, rec metrics.Recorder, logf func(string, ...any)) *Server {
	if logf == nil {
		logf = log.Printf
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Server{
		cfg:               cfg,
		js:                js,
		connectionTimeout: time.Duration(cfg.ConnectionTimeout) * time.Second,
		minDiffAdjust:     cfg.MinDiffAdjust,
		tcpProxyProtocol:  cfg.TCPProxyProtocol,
		authorizeFn:       authorizeFn,
		metrics:           rec,
		log:               logf,
	}
}

// Start binds every configured port and begins accepting connections.
func (s *Server) Start() error {
	for portStr, portCfg := range s.cfg.Ports {
		var port int
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			return fmt.Errorf("stratum: invalid port key %q: %w", portStr, err)
		}

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("stratum: listen on %d: %w", port, err)
		}
		s.log("stratum listening on :%d (diff %.2f)", port, portCfg.Diff)

		pl := &PortListener{
			port:     port,
			portCfg:  portCfg,
			ln:       ln,
			sessions: make(map[*Session]struct{}),
		}
		if portCfg.VarDiff != nil {
			pl.vd = vardiff.NewController(vardiff.Config{
				TargetTime:      portCfg.VarDiff.TargetTime,
				RetargetTime:    portCfg.VarDiff.RetargetTime,
				VariancePercent: portCfg.VarDiff.VariancePercent,
				MinDiff:         portCfg.VarDiff.MinDiff,
				MaxDiff:         portCfg.VarDiff.MaxDiff,
			})
		}

		s.mu.Lock()
		s.listeners = append(s.listeners, pl)
		s.mu.Unlock()

		s.waitGroup.Add(1)
		go s.acceptLoop(pl)
	}
	return nil
}

// Stop closes every listener and waits for in-flight handlers to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutting = true
	for _, pl := range s.listeners {
		_ = pl.ln.Close()
	}
	s.mu.Unlock()

	s.waitGroup.Wait()
	return nil
}

// SetNetworkDifficulty propagates the daemon's reported network difficulty
// to every port's VarDiff controller, capping its upward retarget ceiling
// (spec.md §4.5).
func (s *Server) SetNetworkDifficulty(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pl := range s.listeners {
		if pl.vd != nil {
			pl.vd.SetNetworkDifficulty(d)
		}
	}
}

func (s *Server) acceptLoop(pl *PortListener) {
	defer s.waitGroup.Done()
	for {
		conn, err := pl.ln.Accept()
		if err != nil {
			if s.isShutting() {
				return
			}
			s.log("stratum: accept error on :%d: %v", pl.port, err)
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(60 * time.Second)
		}

		s.waitGroup.Add(1)
		go func(c net.Conn) {
			defer s.waitGroup.Done()
			s.handleConn(pl, c)
		}(conn)
	}
}

func (s *Server) handleConn(pl *PortListener, conn net.Conn) {
	defer conn.Close()

	sess := NewSession(conn, pl.port, s.js, s.authorizeFn, pl.portCfg.Diff, s.minDiffAdjust, s.tcpProxyProtocol, s.connectionTimeout, pl.vd, s.metrics, s.log)
	s.registerSession(pl, sess)
	sess.Serve()
	s.unregisterSession(pl, sess)
}

func (s *Server) registerSession(pl *PortListener, sess *Session) {
	pl.sessionsMu.Lock()
	pl.sessions[sess] = struct{}{}
	pl.sessionsMu.Unlock()
}

func (s *Server) unregisterSession(pl *PortListener, sess *Session) {
	pl.sessionsMu.Lock()
	delete(pl.sessions, sess)
	pl.sessionsMu.Unlock()
}

// BroadcastJob pushes the current job to every authorized session across
// every listening port. Called by the orchestrator on newBlock/updatedBlock
// events and on broadcastTimeout expiry (spec.md §4.7).
func (s *Server) BroadcastJob() {
	s.mu.Lock()
	listeners := make([]*PortListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, pl := range listeners {
		pl.sessionsMu.Lock()
		sessions := make([]*Session, 0, len(pl.sessions))
		for sess := range pl.sessions {
			sessions = append(sessions, sess)
		}
		pl.sessionsMu.Unlock()

		for _, sess := range sessions {
			go sess.BroadcastJob(nil)
		}
	}
}

func (s *Server) isShutting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutting
}

// ConnectedCount returns the number of connected miners across all ports.
func (s *Server) ConnectedCount() int {
	s.mu.Lock()
	listeners := make([]*PortListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	count := 0
	for _, pl := range listeners {
		pl.sessionsMu.Lock()
		count += len(pl.sessions)
		pl.sessionsMu.Unlock()
	}
	return count
}
