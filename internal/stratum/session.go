package stratum

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"solopool/internal/coinparams"
	"solopool/internal/job"
	"solopool/internal/metrics"
	"solopool/internal/vardiff"
)

// JobSource is the small capability the Job Manager exposes to the
// Stratum layer, cutting the cyclic orchestrator<->server<->manager
// reference the original closure-based wiring had (spec.md §9).
type JobSource interface {
	NextExtraNonce1() string
	CurrentJobParams() []any
	ProcessShare(jobID string, prevDiff, diff float64, extraNonce1, extraNonce2, nTime, nonce string, ip string, port int, worker string, soln string) (*job.ShareResult, *job.ShareError)
}

// AuthorizeFunc is the orchestrator-supplied authorization hook. The
// reference behavior always returns authorized=true (spec.md §4.4); the
// disconnect flag lets the hook force a teardown regardless of the
// authorized verdict.
type AuthorizeFunc func(ip string, port int, addr, pass string) (authorized bool, disconnect bool)

var workerNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.]+`)

// sanitizeWorkerName strips anything outside [a-zA-Z0-9.] and splits the
// leading address from a trailing ".worker" suffix, defaulting the worker
// half to "noname" when absent (spec.md §4.4).
func sanitizeWorkerName(raw string) (addr, worker string) {
	clean := workerNameSanitizer.ReplaceAllString(raw, "")
	parts := strings.SplitN(clean, ".", 2)
	addr = parts[0]
	if len(parts) == 2 && parts[1] != "" {
		worker = parts[1]
	} else {
		worker = "noname"
	}
	return addr, worker
}

// Session drives one Stratum TCP connection's client state machine.
type Session struct {
	conn       net.Conn
	rw         *bufio.ReadWriter
	remoteAddr string
	localPort  int

	js           JobSource
	authorizeFn  AuthorizeFunc
	metrics      metrics.Recorder
	log          func(format string, args ...any)

	connectionTimeout time.Duration
	minDiffAdjust     bool
	tcpProxyProtocol  bool
	portDiff          float64

	vd    *vardiff.Controller
	vdTrk *vardiff.Tracker

	mu                 sync.Mutex
	subscriptionID     string
	extraNonce1        string
	subscribed         bool
	authorized         bool
	workerName         string
	address            string
	difficulty         float64
	previousDifficulty float64
	pendingDifficulty  float64
	hasPending         bool
	lastActivity       time.Time
}

// NewSession wires a freshly accepted connection to its Job Manager
// capability and VarDiff controller.
func NewSession(conn net.Conn, localPort int, js JobSource, authorizeFn AuthorizeFunc, portDiff float64, minDiffAdjust, tcpProxyProtocol bool, connectionTimeout time.Duration, vd *vardiff.Controller, rec metrics.Recorder, log func(string, ...any)) *Session {
	if log == nil {
		log = func(string, ...any) {}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Session{
		conn:              conn,
		rw:                bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		remoteAddr:        conn.RemoteAddr().String(),
		localPort:         localPort,
		js:                js,
		authorizeFn:       authorizeFn,
		metrics:           rec,
		log:               log,
		connectionTimeout: connectionTimeout,
		minDiffAdjust:     minDiffAdjust,
		tcpProxyProtocol:  tcpProxyProtocol,
		portDiff:          portDiff,
		vd:                vd,
		vdTrk:             vardiff.NewTracker(),
		lastActivity:      time.Now(),
	}
}

// Serve reads newline-delimited JSON-RPC requests until the connection
// closes or a framing fault occurs, per spec.md §4.4.
func (s *Session) Serve() {
	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	var buf []byte
	readBuf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			for {
				idx := indexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := buf[:idx]
				buf = buf[idx+1:]
				if !s.handleLine(line) {
					return
				}
			}
			if len(buf) > maxLineBytes {
				s.log("conn %s flooded (no newline in %d bytes), closing", s.remoteAddr, len(buf))
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleLine(line []byte) bool {
	trimmed := strings.TrimRight(string(line), "\r")
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "PROXY") {
		if s.tcpProxyProtocol {
			// The proxy-protocol preface is accepted and ignored.
			return true
		}
		s.log("conn %s sent PROXY preface but tcpProxyProtocol is disabled, closing", s.remoteAddr)
		return false
	}

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()

	var req Request
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		s.log("conn %s malformed message, closing: %v", s.remoteAddr, err)
		return false
	}

	switch req.Method {
	case "mining.subscribe":
		s.handleSubscribe(req)
	case "mining.authorize":
		s.handleAuthorize(req)
	case "mining.submit":
		s.handleSubmit(req)
	case "mining.get_transactions":
		// Not backed by a mempool projection; the reference response is a
		// literal {result:[], error:true}, not the [code,message,null]
		// triple the rest of this protocol uses (spec.md §4.4).
		s.writeRaw(map[string]any{"id": req.ID, "result": []any{}, "error": true})
	case "mining.extranonce.subscribe":
		s.writeResponse(Response{ID: req.ID, Error: &RespError{Code: 20, Message: "Not supported."}})
	default:
		s.log("conn %s unknown stratum method %q", s.remoteAddr, req.Method)
	}
	return true
}

func (s *Session) handleSubscribe(req Request) {
	s.mu.Lock()
	s.subscriptionID = nextSubscriptionID()
	s.extraNonce1 = s.js.NextExtraNonce1()
	s.subscribed = true
	extraNonce1 := s.extraNonce1
	s.mu.Unlock()

	s.writeResponse(Response{ID: req.ID, Result: []any{nil, extraNonce1}})
}

func (s *Session) handleAuthorize(req Request) {
	var params []string
	_ = json.Unmarshal(req.Params, &params)
	if len(params) < 1 {
		s.writeResponse(Response{ID: req.ID, Result: false})
		return
	}
	rawName := params[0]
	pass := ""
	if len(params) > 1 {
		pass = params[1]
	}
	addr, worker := sanitizeWorkerName(rawName)

	ok, disconnect := true, false
	if s.authorizeFn != nil {
		ok, disconnect = s.authorizeFn(s.remoteAddr, s.localPort, addr, pass)
	}

	s.mu.Lock()
	s.address = addr
	s.workerName = worker
	s.authorized = ok
	s.mu.Unlock()

	s.writeResponse(Response{ID: req.ID, Result: ok})
	if disconnect {
		s.conn.Close()
		return
	}
	if !ok {
		return
	}

	initialDiff := s.currentDifficultyForAuthorize()
	s.sendDifficulty(initialDiff)
	s.sendCurrentJob()
}

func (s *Session) currentDifficultyForAuthorize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.minDiffAdjust {
		return s.portDiff
	}
	if s.difficulty > 0 {
		return s.difficulty
	}
	return s.portDiff
}

func (s *Session) handleSubmit(req Request) {
	var params []string
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 5 {
		s.writeResponse(Response{ID: req.ID, Result: true, Error: nil})
		return
	}

	s.mu.Lock()
	authorized := s.authorized
	subscribed := s.subscribed
	extraNonce1 := s.extraNonce1
	diff := s.difficulty
	prevDiff := s.previousDifficulty
	addr, worker := s.address, s.workerName
	s.mu.Unlock()

	if !authorized {
		s.writeResponse(Response{ID: req.ID, Error: &RespError{Code: 24, Message: "unauthorized worker"}})
		return
	}
	if !subscribed {
		s.writeResponse(Response{ID: req.ID, Error: &RespError{Code: 25, Message: "not subscribed"}})
		return
	}

	jobID, nTime, extraNonce2, soln := params[1], params[2], params[3], params[4]
	fullNonce, err := buildFullNonce(extraNonce1, extraNonce2)
	if err != nil {
		s.writeResponse(Response{ID: req.ID, Result: true})
		return
	}

	host, portStr, _ := net.SplitHostPort(s.remoteAddr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	_, shareErr := s.js.ProcessShare(jobID, prevDiff, diff, extraNonce1, extraNonce2, nTime, fullNonce, host, port, fmt.Sprintf("%s.%s", addr, worker), soln)
	switch {
	case shareErr == nil:
		s.metrics.ShareAccepted()
	case shareErr.Code == job.CodeJobNotFound:
		s.metrics.ShareStale()
	case shareErr.Code == job.CodeLowDifficulty:
		s.metrics.ShareLowDifficulty()
	default:
		s.metrics.ShareInvalid()
	}

	// mining.submit always gets an affirmative response: the pool would
	// rather lose a rejected share than a miner that disconnects on reject
	// (spec.md §4.4).
	s.writeResponse(Response{ID: req.ID, Result: true, Error: nil})

	s.retargetAfterSubmit()
}

func (s *Session) retargetAfterSubmit() {
	if s.vd == nil {
		return
	}
	s.mu.Lock()
	diff := s.difficulty
	s.mu.Unlock()

	newDiff, changed := s.vd.Submit(s.vdTrk, diff, time.Now())
	if !changed {
		return
	}
	s.mu.Lock()
	s.pendingDifficulty = newDiff
	s.hasPending = true
	s.mu.Unlock()
}

// sendCurrentJob implements spec.md §4.4's sendMiningJob: resend the
// target if a difficulty change is pending, then the job itself.
func (s *Session) sendCurrentJob() {
	s.mu.Lock()
	idle := time.Since(s.lastActivity)
	s.mu.Unlock()
	if s.connectionTimeout > 0 && idle > s.connectionTimeout {
		s.conn.Close()
		return
	}

	s.mu.Lock()
	if s.hasPending {
		diff := s.pendingDifficulty
		s.hasPending = false
		s.mu.Unlock()
		s.sendDifficulty(diff)
	} else {
		diff := s.difficulty
		s.mu.Unlock()
		s.sendDifficulty(diff)
	}

	params := s.js.CurrentJobParams()
	if params == nil {
		return
	}
	s.writeResponse(Response{ID: nil, Method: "mining.notify", Params: params})
}

// BroadcastJob is called by the server for every connected, authorized
// client when a new or updated template is available.
func (s *Session) BroadcastJob(params []any) {
	s.mu.Lock()
	authorized := s.authorized
	s.mu.Unlock()
	if !authorized {
		return
	}
	s.sendCurrentJob()
	_ = params // params are read fresh from js.CurrentJobParams(); kept for signature symmetry.
}

// sendDifficulty is a no-op if the value is unchanged or the client isn't
// authorized yet; on change it records previousDifficulty and emits
// mining.set_target (spec.md §4.4).
func (s *Session) sendDifficulty(diff float64) {
	s.mu.Lock()
	if !s.authorized || diff <= 0 || diff == s.difficulty {
		s.mu.Unlock()
		return
	}
	s.previousDifficulty = s.difficulty
	s.difficulty = diff
	s.mu.Unlock()

	target := targetForDifficulty(diff)
	s.writeResponse(Response{ID: nil, Method: "mining.set_target", Params: []any{target}})
}

// targetForDifficulty computes komodo.diff1 / (difficulty / scalingFactor)
// left-padded to 64 hex chars, per spec.md §4.4 (S5).
func targetForDifficulty(difficulty float64) string {
	komodoDiff1 := coinparams.AlgoTable[coinparams.AlgoKomodo].Diff1
	scaling := coinparams.ScalingFactor()

	d := new(big.Float).SetFloat64(difficulty)
	scaledDiff := new(big.Float).Quo(d, scaling)
	target := new(big.Float).Quo(new(big.Float).SetInt(komodoDiff1), scaledDiff)

	ti, _ := target.Int(nil)
	h := ti.Text(16)
	if len(h) < 64 {
		h = strings.Repeat("0", 64-len(h)) + h
	}
	return h
}

func (s *Session) writeResponse(resp Response) {
	s.writeRaw(resp)
}

// writeRaw marshals and writes any JSON-able value, for the handful of
// responses (mining.get_transactions) that don't fit Response's shape.
func (s *Session) writeRaw(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rw.Write(append(b, '\n')); err != nil {
		return
	}
	_ = s.rw.Flush()
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
