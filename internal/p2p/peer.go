// Package p2p implements the minimal Bitcoin P2P participant spec.md §4.6
// describes: a version/verack handshake followed by inv(block) and
// ping/pong handling, used as an optional fast path to learn about new
// blocks faster than polling getblocktemplate allows.
//
// Komodo/Zcash peers use the same wire framing as Bitcoin but a different
// network magic and a richer version payload than github.com/btcsuite/btcd/
// wire's Bitcoin-mainnet-shaped message structs model, so this package
// frames messages by hand rather than through that package (see
// DESIGN.md). Header checksums reuse internal/bitcoin's SHA-256d, which is
// itself backed by the pack's sha256-simd dependency.
package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"solopool/internal/bitcoin"
)

const (
	commandSize    = 12
	headerSize     = 4 + commandSize + 4 + 4
	protocolVersion = 170002
	serviceNodeNetwork = 1
	userAgent      = "/komodo-solomining:1.0.0/"
)

// Peer is one outbound connection to a coin daemon's P2P port.
type Peer struct {
	host                string
	port                int
	magic               [4]byte
	disableTransactions bool
	log                 func(format string, args ...any)

	blockFound chan string
}

// NewPeer builds a Peer that will dial host:port once Run is called.
// magic is the coin's 4-byte network magic (config.Coin.PeerMagic,
// decoded); it prefixes every message header.
func NewPeer(host string, port int, magic [4]byte, disableTransactions bool, log func(string, ...any)) *Peer {
	if log == nil {
		log = func(string, ...any) {}
	}
	return &Peer{host: host, port: port, magic: magic, disableTransactions: disableTransactions, log: log, blockFound: make(chan string, 16)}
}

// BlockFound delivers the display-order hex hash of each block
// advertised via inv(block).
func (p *Peer) BlockFound() <-chan string { return p.blockFound }

// Run dials the peer and services the connection until ctx is canceled,
// reconnecting automatically if a verack was seen before the disconnect
// (spec.md §4.6).
func (p *Peer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		verackSeen, err := p.runOnce(ctx)
		if err != nil {
			p.log("p2p: %v", err)
		}
		if !verackSeen {
			p.log("p2p: connection rejected (no verack), giving up")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (p *Peer) runOnce(ctx context.Context) (verackSeen bool, err error) {
	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	p.log("p2p: connected to %s", addr)

	br := bufio.NewReader(conn)

	if err := p.writeMessage(conn, "version", p.versionPayload()); err != nil {
		return false, fmt.Errorf("send version: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return verackSeen, ctx.Err()
		default:
		}

		cmd, payload, err := p.readMessage(br)
		if err != nil {
			return verackSeen, fmt.Errorf("read message: %w", err)
		}

		switch cmd {
		case "version":
			if err := p.writeMessage(conn, "verack", nil); err != nil {
				return verackSeen, fmt.Errorf("send verack: %w", err)
			}
		case "verack":
			verackSeen = true
		case "ping":
			if err := p.writeMessage(conn, "pong", payload); err != nil {
				return verackSeen, fmt.Errorf("send pong: %w", err)
			}
		case "inv":
			p.handleInv(payload)
		}
	}
}

// handleInv emits BlockFound for every type-2 (block) entry, per spec.md
// §4.6.
func (p *Peer) handleInv(payload []byte) {
	count, n, err := bitcoin.ReadVarInt(payload)
	if err != nil {
		return
	}
	off := n
	const invVectSize = 36
	for i := uint64(0); i < count; i++ {
		if off+invVectSize > len(payload) {
			return
		}
		invType := binary.LittleEndian.Uint32(payload[off : off+4])
		hash := payload[off+4 : off+invVectSize]
		off += invVectSize
		if invType == 2 {
			select {
			case p.blockFound <- fmt.Sprintf("%x", bitcoin.ReverseCopy(hash)):
			default:
			}
		}
	}
}

// versionPayload builds the handshake body: protocol version, services,
// timestamp, two zeroed net addresses, a random nonce, the user agent,
// starting block height 0, and an optional relay-transactions byte
// (spec.md §4.6).
func (p *Peer) versionPayload() []byte {
	buf := make([]byte, 0, 128)
	buf = appendUint32(buf, protocolVersion)
	buf = appendUint64(buf, serviceNodeNetwork)
	buf = appendInt64(buf, time.Now().Unix())
	buf = append(buf, make([]byte, 26)...) // addrYou: zeroed netaddr
	buf = append(buf, make([]byte, 26)...) // addrMe: zeroed netaddr
	buf = appendUint64(buf, rand.Uint64())
	buf = append(buf, byte(len(userAgent)))
	buf = append(buf, userAgent...)
	buf = appendInt32(buf, 0) // start height
	if p.disableTransactions {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
	}
	return buf
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func appendInt32(b []byte, v int32) []byte { return appendUint32(b, uint32(v)) }

func appendUint64(b []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(b, tmp...)
}

func appendInt64(b []byte, v int64) []byte { return appendUint64(b, uint64(v)) }
