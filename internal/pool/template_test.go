package pool

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"solopool/internal/daemon"
)

func newTestDaemonClient(t *testing.T, handler http.HandlerFunc) *daemon.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	inst := &daemon.Instance{Host: host, Port: port, User: "u", Password: "p", Index: 0}
	return daemon.NewClient([]*daemon.Instance{inst}, nil)
}

func rpcBody(t *testing.T, r *http.Request) (method string) {
	t.Helper()
	var req struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode rpc request: %v", err)
	}
	return req.Method
}

func TestFetchTemplateDetectsNotSynced(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":null,"error":{"code":-10,"message":"Still downloading initial blocks"},"id":"1"}`))
	}
	o := &Orchestrator{log: t.Logf, daemonClient: newTestDaemonClient(t, h)}

	_, syncing, err := o.fetchTemplate(context.Background())
	if err != nil {
		t.Fatalf("fetchTemplate: %v", err)
	}
	if !syncing {
		t.Fatal("expected syncing=true on a -10 response")
	}
}

func TestFetchTemplateFailsWhenNoInstanceAnswers(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":null,"error":{"code":-1,"message":"boom"},"id":"1"}`))
	}
	o := &Orchestrator{log: t.Logf, daemonClient: newTestDaemonClient(t, h)}

	_, syncing, err := o.fetchTemplate(context.Background())
	if err == nil {
		t.Fatal("expected an error when every instance fails with a non-sync error")
	}
	if syncing {
		t.Fatal("syncing should be false on a generic RPC failure")
	}
}

func TestFetchTemplateDecodesCoinbaseVouts(t *testing.T) {
	h := func(w http.ResponseWriter, r *http.Request) {
		switch rpcBody(t, r) {
		case "getblocktemplate":
			w.Write([]byte(`{"result":{
				"version":4,
				"previousblockhash":"aa",
				"transactions":[],
				"coinbasetxn":{"data":"deadbeef"},
				"coinbasevalue":1000000000,
				"target":"0000ffff00000000000000000000000000000000000000000000000000000",
				"curtime":123456,
				"bits":"1f00ffff",
				"height":100,
				"finalsaplingroothash":"bb"
			},"error":null,"id":"1"}`))
		case "decoderawtransaction":
			w.Write([]byte(`{"result":{"vout":[
				{"value":10.0,"scriptPubKey":{"hex":"76a914000000000000000000000000000000000000000088ac","type":"pubkeyhash"}}
			]},"error":null,"id":"1"}`))
		default:
			t.Fatalf("unexpected method in test: called twice?")
		}
	}
	o := &Orchestrator{log: t.Logf, daemonClient: newTestDaemonClient(t, h)}

	tpl, syncing, err := o.fetchTemplate(context.Background())
	if err != nil {
		t.Fatalf("fetchTemplate: %v", err)
	}
	if syncing {
		t.Fatal("syncing should be false")
	}
	if tpl.Height != 100 {
		t.Errorf("height = %d, want 100", tpl.Height)
	}
	if len(tpl.Vouts) != 1 {
		t.Fatalf("got %d vouts, want 1", len(tpl.Vouts))
	}
	if tpl.Vouts[0].ValueZat != 1000000000 {
		t.Errorf("voutValueZat = %d, want 1000000000", tpl.Vouts[0].ValueZat)
	}
}
