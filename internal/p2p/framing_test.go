package p2p

import (
	"bufio"
	"bytes"
	"testing"
)

func testPeer() *Peer {
	return NewPeer("127.0.0.1", 7770, [4]byte{0xf9, 0xee, 0xe4, 0x8d}, false, nil)
}

func TestWriteReadMessageRoundTrips(t *testing.T) {
	p := testPeer()
	var buf bytes.Buffer
	if err := p.writeMessage(&buf, "ping", []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	cmd, payload, err := p.readMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if cmd != "ping" {
		t.Errorf("cmd = %q, want ping", cmd)
	}
	if !bytes.Equal(payload, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("payload = %x, want 0102030405060708", payload)
	}
}

func TestReadMessageResyncsPastGarbagePrefix(t *testing.T) {
	p := testPeer()
	var msg bytes.Buffer
	if err := p.writeMessage(&msg, "verack", nil); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x11, 0x22, 0x33, 0x44}) // garbage that never matches magic
	buf.Write(msg.Bytes())

	cmd, payload, err := p.readMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if cmd != "verack" {
		t.Errorf("cmd = %q, want verack", cmd)
	}
	if len(payload) != 0 {
		t.Errorf("payload = %x, want empty", payload)
	}
}

func TestReadMessageRestartsOnChecksumMismatch(t *testing.T) {
	p := testPeer()
	var msg bytes.Buffer
	if err := p.writeMessage(&msg, "ping", []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	corrupted := msg.Bytes()
	corrupted[len(corrupted)-1] ^= 0xff // flip the last payload byte after the checksum was computed

	var good bytes.Buffer
	if err := p.writeMessage(&good, "pong", []byte{4, 4, 4, 4}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(corrupted)
	buf.Write(good.Bytes())

	cmd, payload, err := p.readMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if cmd != "pong" {
		t.Errorf("cmd = %q, want pong (the corrupted message should have been skipped)", cmd)
	}
	if !bytes.Equal(payload, []byte{4, 4, 4, 4}) {
		t.Errorf("payload = %x, want 04040404", payload)
	}
}

func TestHandleInvEmitsBlockHashOnly(t *testing.T) {
	p := testPeer()
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = byte(i)
	}
	var payload bytes.Buffer
	payload.WriteByte(2) // count = 2 (varint, fits in one byte)
	// entry 0: type 1 (tx), should be ignored
	payload.Write([]byte{1, 0, 0, 0})
	payload.Write(hash)
	// entry 1: type 2 (block), should be emitted
	payload.Write([]byte{2, 0, 0, 0})
	payload.Write(hash)

	p.handleInv(payload.Bytes())

	select {
	case got := <-p.BlockFound():
		if len(got) != 64 {
			t.Errorf("hash len = %d, want 64 hex chars", len(got))
		}
	default:
		t.Fatal("expected exactly one block hash on BlockFound()")
	}
	select {
	case <-p.BlockFound():
		t.Fatal("expected only one block hash, tx entry should have been skipped")
	default:
	}
}
