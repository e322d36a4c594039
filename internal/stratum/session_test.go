package stratum

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"solopool/internal/job"
)

func TestSanitizeWorkerName(t *testing.T) {
	cases := []struct {
		in       string
		wantAddr string
		wantWork string
	}{
		{"RXiss.worker1", "RXiss", "worker1"},
		{"RXiss", "RXiss", "noname"},
		{"RXiss.", "RXiss", "noname"},
		{"RXi$$.w0rk!er", "RXi", "w0rker"},
	}
	for _, tc := range cases {
		addr, worker := sanitizeWorkerName(tc.in)
		if addr != tc.wantAddr || worker != tc.wantWork {
			t.Errorf("sanitizeWorkerName(%q) = (%q, %q), want (%q, %q)", tc.in, addr, worker, tc.wantAddr, tc.wantWork)
		}
	}
}

type fakeJobSource struct {
	extraNonce1 string
	params      []any
	shareErr    *job.ShareError
	shareRes    *job.ShareResult
	submits     int
}

func (f *fakeJobSource) NextExtraNonce1() string   { return f.extraNonce1 }
func (f *fakeJobSource) CurrentJobParams() []any   { return f.params }
func (f *fakeJobSource) ProcessShare(jobID string, prevDiff, diff float64, extraNonce1, extraNonce2, nTime, nonce string, ip string, port int, worker string, soln string) (*job.ShareResult, *job.ShareError) {
	f.submits++
	return f.shareRes, f.shareErr
}

func newPipeSession(t *testing.T, js JobSource, authorizeFn AuthorizeFunc) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	sess := NewSession(server, 3333, js, authorizeFn, 32, false, false, 0, nil, nil, nil)
	return sess, client
}

func writeLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readResponse(t *testing.T, r *bufio.Reader) Response {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	return resp
}

func TestSubscribeAssignsExtraNonce(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd", params: []any{"job1"}}
	sess, client := newPipeSession(t, js, nil)
	go sess.Serve()
	defer client.Close()

	writeLine(t, client, Request{ID: 1, Method: "mining.subscribe", Params: json.RawMessage(`[]`)})
	r := bufio.NewReader(client)
	resp := readResponse(t, r)

	results, ok := resp.Result.([]any)
	if !ok || len(results) != 2 {
		t.Fatalf("subscribe result = %#v, want [nil, extraNonce1]", resp.Result)
	}
	if results[1] != "aabbccdd" {
		t.Fatalf("subscribe extraNonce1 = %v, want aabbccdd", results[1])
	}
}

func TestAuthorizeSendsTargetThenJob(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd", params: []any{"job1", "notify"}}
	sess, client := newPipeSession(t, js, nil)
	go sess.Serve()
	defer client.Close()

	r := bufio.NewReader(client)
	writeLine(t, client, Request{ID: 1, Method: "mining.subscribe", Params: json.RawMessage(`[]`)})
	readResponse(t, r)

	writeLine(t, client, Request{ID: 2, Method: "mining.authorize", Params: json.RawMessage(`["RXiss.worker1","x"]`)})
	authResp := readResponse(t, r)
	if authResp.Result != true {
		t.Fatalf("authorize result = %v, want true", authResp.Result)
	}

	setTarget := readResponse(t, r)
	if setTarget.Method != "mining.set_target" {
		t.Fatalf("expected mining.set_target first, got %q", setTarget.Method)
	}

	notify := readResponse(t, r)
	if notify.Method != "mining.notify" {
		t.Fatalf("expected mining.notify second, got %q", notify.Method)
	}
}

func TestAuthorizeRejectedDisconnects(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd"}
	authFn := func(ip string, port int, addr, pass string) (bool, bool) { return false, true }
	sess, client := newPipeSession(t, js, authFn)
	go sess.Serve()
	defer client.Close()

	r := bufio.NewReader(client)
	writeLine(t, client, Request{ID: 2, Method: "mining.authorize", Params: json.RawMessage(`["RXiss.worker1","x"]`)})
	resp := readResponse(t, r)
	if resp.Result != false {
		t.Fatalf("authorize result = %v, want false", resp.Result)
	}
	if _, err := r.ReadString('\n'); err == nil {
		t.Fatal("expected the connection to close after a rejected authorize with disconnect=true")
	}
}

func TestSubmitWithoutAuthorizationIsRejected(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd"}
	sess, client := newPipeSession(t, js, nil)
	go sess.Serve()
	defer client.Close()

	r := bufio.NewReader(client)
	writeLine(t, client, Request{ID: 3, Method: "mining.submit", Params: json.RawMessage(`["RXiss.worker1","job1","00000000","11223344","0000"]`)})
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// The error travels as the bare [code, message, null] triple, which
	// Response's *RespError field cannot be decoded from.
	var resp struct {
		Error []any `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if len(resp.Error) == 0 || resp.Error[0] != float64(24) {
		t.Fatalf("expected error code 24 for unauthorized submit, got %#v", resp.Error)
	}
	if js.submits != 0 {
		t.Fatalf("ProcessShare should not have been called, got %d calls", js.submits)
	}
}

func TestProxyPrefaceAcceptedWhenEnabled(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd", params: []any{"job1"}}
	server, client := net.Pipe()
	sess := NewSession(server, 3333, js, nil, 32, false, true, 0, nil, nil, nil)
	go sess.Serve()
	defer client.Close()

	if _, err := client.Write([]byte("PROXY TCP4 1.2.3.4 5.6.7.8 1234 5678\r\n")); err != nil {
		t.Fatalf("write PROXY preface: %v", err)
	}
	writeLine(t, client, Request{ID: 1, Method: "mining.subscribe", Params: json.RawMessage(`[]`)})

	r := bufio.NewReader(client)
	resp := readResponse(t, r)
	results, ok := resp.Result.([]any)
	if !ok || len(results) != 2 {
		t.Fatalf("subscribe result = %#v, want [nil, extraNonce1] (PROXY preface should be swallowed)", resp.Result)
	}
}

func TestProxyPrefaceClosesConnectionWhenDisabled(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd", params: []any{"job1"}}
	server, client := net.Pipe()
	sess := NewSession(server, 3333, js, nil, 32, false, false, 0, nil, nil, nil)
	defer client.Close()

	done := make(chan struct{})
	go func() { sess.Serve(); close(done) }()

	if _, err := client.Write([]byte("PROXY TCP4 1.2.3.4 5.6.7.8 1234 5678\r\n")); err != nil {
		t.Fatalf("write PROXY preface: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Serve to return after a PROXY preface with tcpProxyProtocol disabled")
	}
}

func TestGetTransactionsRespondsWithLiteralShape(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd"}
	sess, client := newPipeSession(t, js, nil)
	go sess.Serve()
	defer client.Close()

	writeLine(t, client, Request{ID: 7, Method: "mining.get_transactions", Params: json.RawMessage(`[]`)})
	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if raw["error"] != true {
		t.Fatalf("error = %#v, want true", raw["error"])
	}
	result, ok := raw["result"].([]any)
	if !ok || len(result) != 0 {
		t.Fatalf("result = %#v, want []", raw["result"])
	}
}

func TestSubmitAlwaysAcksAfterAuthorization(t *testing.T) {
	js := &fakeJobSource{extraNonce1: "aabbccdd", params: []any{"job1"}, shareErr: &job.ShareError{Code: 23, Message: "low difficulty"}}
	authFn := func(ip string, port int, addr, pass string) (bool, bool) { return true, false }
	sess, client := newPipeSession(t, js, authFn)
	go sess.Serve()
	defer client.Close()

	r := bufio.NewReader(client)
	writeLine(t, client, Request{ID: 1, Method: "mining.subscribe", Params: json.RawMessage(`[]`)})
	readResponse(t, r)
	writeLine(t, client, Request{ID: 2, Method: "mining.authorize", Params: json.RawMessage(`["RXiss.worker1","x"]`)})
	readResponse(t, r) // authorize result
	readResponse(t, r) // set_target
	readResponse(t, r) // notify

	writeLine(t, client, Request{ID: 3, Method: "mining.submit", Params: json.RawMessage(`["RXiss.worker1","job1","00000000","11223344","0000"]`)})
	resp := readResponse(t, r)
	if resp.Result != true {
		t.Fatalf("mining.submit result = %v, want true even on a rejected share", resp.Result)
	}
	if js.submits != 1 {
		t.Fatalf("ProcessShare calls = %d, want 1", js.submits)
	}
}

func TestTargetForDifficultyPadsTo64HexChars(t *testing.T) {
	target := targetForDifficulty(1)
	if len(target) != 64 {
		t.Fatalf("target hex length = %d, want 64", len(target))
	}
}

func init() {
	// Keep pipe-based tests from hanging forever if a response never
	// arrives; net.Pipe has no inherent deadline.
	_ = time.Second
}
