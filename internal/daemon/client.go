// Package daemon implements the multi-instance JSON-RPC fan-out client
// described in spec.md §4.1: the same call dispatched to every configured
// coin daemon in parallel (Cmd/CmdStream), or a single JSON-RPC batch sent
// to the first instance only (BatchCmd).
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

// ErrorType classifies a failed RPC call, per spec.md §7.
type ErrorType string

const (
	ErrOffline       ErrorType = "offline"        // ECONNREFUSED
	ErrRequest       ErrorType = "request error"  // other transport error
	ErrUnauthorized  ErrorType = "unauthorized"    // HTTP 401
	ErrRPC           ErrorType = "rpc error"       // daemon returned a JSON-RPC error object
)

// CallError is the per-instance error shape spec.md §4.1 requires in the
// result vector: {error, response, instance[, data]}.
type CallError struct {
	Type    ErrorType
	Message string
	// Code is the daemon's JSON-RPC error code; only meaningful when
	// Type is ErrRPC. Callers use it to distinguish e.g. -10 (chain not
	// synced) from other RPC failures.
	Code int
}

func (e *CallError) Error() string { return fmt.Sprintf("%s: %s", e.Type, e.Message) }

// Result is one daemon's response to a fanned-out Cmd call.
type Result struct {
	Instance *Instance
	Error    *CallError
	Response json.RawMessage
	// Data carries the raw response body when call is asked for it
	// (returnRawData in spec.md's JS-shaped contract). Cmd and CmdStream
	// never ask, so for their results Data is always nil.
	Data []byte
}

// LogFunc receives human-readable diagnostics the way spec.md §9 describes
// ("the CLI notifier" boundary) — the pool orchestrator wires this to its
// own logging sink.
type LogFunc func(format string, args ...any)

// Client fans a JSON-RPC call out across every configured daemon instance,
// or sends a JSON-RPC batch to the first instance only.
type Client struct {
	instances []*Instance
	log       LogFunc
	client    *http.Client

	mu               sync.Mutex
	unauthorizedLogged map[int]bool
}

// NewClient builds a fan-out client over the given ordered instances. Order
// matters for BatchCmd, which only ever talks to instances[0].
func NewClient(instances []*Instance, log LogFunc) *Client {
	if log == nil {
		log = func(string, ...any) {}
	}
	return &Client{
		instances:          instances,
		log:                log,
		client:             &http.Client{}, // no explicit timeout: §5, the OS TCP timeout governs.
		unauthorizedLogged: make(map[int]bool),
	}
}

// InitResult is the outcome of Init: Online is true only if every instance
// answered getinfo successfully.
type InitResult struct {
	Online  bool
	Results []Result
}

// Init probes every instance with getinfo. spec.md §4.1: "fires an online
// event once getinfo succeeds on all instances; a connectionFailed event
// on partial failure."
func (c *Client) Init(ctx context.Context) InitResult {
	results := c.Cmd(ctx, "getinfo", nil)
	online := true
	for _, r := range results {
		if r.Error != nil {
			online = false
		}
	}
	return InitResult{Online: online, Results: results}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrObj      `json:"error"`
}

type rpcErrObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func makeID(index int) string {
	n := time.Now().UnixMilli() + int64(rand.Intn(10))
	if index > 0 {
		return fmt.Sprintf("%d%d", n, index)
	}
	return fmt.Sprintf("%d", n)
}

// Cmd dispatches method/params to every instance in parallel, bounded by a
// sizedwaitgroup sized to the instance count (so one slow daemon cannot
// starve the others' goroutines from ever being scheduled), and returns once
// every instance has replied — the non-streaming aggregate form of
// spec.md's cmd().
func (c *Client) Cmd(ctx context.Context, method string, params []any) []Result {
	results := make([]Result, len(c.instances))
	swg := sizedwaitgroup.New(maxInt(len(c.instances), 1))
	for i, inst := range c.instances {
		swg.Add()
		go func(i int, inst *Instance) {
			defer swg.Done()
			results[i] = c.call(ctx, inst, method, params, false)
		}(i, inst)
	}
	swg.Wait()
	return results
}

// CmdStream is the streamResults=true form: each instance's result is
// delivered on the returned channel as soon as it arrives, rather than
// aggregated. The channel is closed once every instance has replied.
func (c *Client) CmdStream(ctx context.Context, method string, params []any) <-chan Result {
	out := make(chan Result, maxInt(len(c.instances), 1))
	go func() {
		defer close(out)
		swg := sizedwaitgroup.New(maxInt(len(c.instances), 1))
		for _, inst := range c.instances {
			swg.Add()
			go func(inst *Instance) {
				defer swg.Done()
				out <- c.call(ctx, inst, method, params, false)
			}(inst)
		}
		swg.Wait()
	}()
	return out
}

// BatchCmd sends a single JSON-RPC 2.0 batch request to the first
// configured instance only, per spec.md §4.1.
type BatchCall struct {
	Method string
	Params []any
}

func (c *Client) BatchCmd(ctx context.Context, calls []BatchCall) ([]json.RawMessage, error) {
	if len(c.instances) == 0 {
		return nil, errors.New("daemon: no instances configured")
	}
	inst := c.instances[0]

	reqs := make([]rpcRequest, len(calls))
	for i, call := range calls {
		reqs[i] = rpcRequest{JSONRPC: "2.0", ID: makeID(inst.Index), Method: call.Method, Params: call.Params}
	}
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, err
	}

	data, status, err := c.post(ctx, inst, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.logUnauthorizedOnce(inst)
		return nil, &CallError{Type: ErrUnauthorized, Message: "Unauthorized RPC access"}
	}

	data = fixNaN(data)
	var resps []rpcResponse
	if err := json.Unmarshal(data, &resps); err != nil {
		return nil, fmt.Errorf("daemon: batch decode: %w", err)
	}
	out := make([]json.RawMessage, len(resps))
	for i, r := range resps {
		if r.Error != nil {
			return nil, fmt.Errorf("daemon: batch call %d: %s", i, r.Error.Message)
		}
		out[i] = r.Result
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, inst *Instance, method string, params []any, returnRaw bool) Result {
	req := rpcRequest{JSONRPC: "2.0", ID: makeID(inst.Index), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return Result{Instance: inst, Error: &CallError{Type: ErrRequest, Message: err.Error()}}
	}

	data, status, err := c.post(ctx, inst, body)
	if err != nil {
		errType := ErrRequest
		if isConnRefused(err) {
			errType = ErrOffline
		}
		return Result{Instance: inst, Error: &CallError{Type: errType, Message: err.Error()}}
	}
	if status == http.StatusUnauthorized {
		c.logUnauthorizedOnce(inst)
		return Result{Instance: inst, Error: &CallError{Type: ErrUnauthorized, Message: "Unauthorized RPC access"}}
	}

	data = fixNaN(data)
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Result{Instance: inst, Error: &CallError{Type: ErrRequest, Message: fmt.Sprintf("decode: %v", err)}}
	}
	if resp.Error != nil {
		return Result{Instance: inst, Error: &CallError{Type: ErrRPC, Message: resp.Error.Message, Code: resp.Error.Code}}
	}
	res := Result{Instance: inst, Response: resp.Result}
	if returnRaw {
		res.Data = data
	}
	return res
}

func (c *Client) post(ctx context.Context, inst *Instance, body []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.url(), bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.ContentLength = int64(len(body))
	httpReq.SetBasicAuth(inst.User, inst.Password)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// fixNaN substitutes ":-nan" with ":0" before parsing — daemons occasionally
// emit non-finite floats that encoding/json cannot parse (spec.md §4.1).
func fixNaN(data []byte) []byte {
	if !bytes.Contains(data, []byte(":-nan")) {
		return data
	}
	return []byte(strings.ReplaceAll(string(data), ":-nan", ":0"))
}

func (c *Client) logUnauthorizedOnce(inst *Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unauthorizedLogged[inst.Index] {
		return
	}
	c.unauthorizedLogged[inst.Index] = true
	c.log("Unauthorized RPC access on daemon %s", inst)
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(opErr.Err.Error(), "connection refused")
	}
	return strings.Contains(err.Error(), "connection refused")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
