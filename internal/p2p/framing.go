package p2p

import (
	"bufio"
	"encoding/binary"
	"io"

	"solopool/internal/bitcoin"
)

// writeMessage frames payload as magic(4) ‖ command(12) ‖ length(4) ‖
// checksum(4) ‖ payload and writes it to w, per spec.md §4.6.
func (p *Peer) writeMessage(w io.Writer, command string, payload []byte) error {
	header := make([]byte, headerSize)
	copy(header[0:4], p.magic[:])
	copy(header[4:4+commandSize], command)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))
	checksum := bitcoin.DoubleSHA256(payload)
	copy(header[20:24], checksum[:4])

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readMessage reads one framed message from r, resyncing on a magic
// mismatch (shifting one byte at a time until the 4-byte magic realigns)
// and restarting the resync from scratch on a checksum mismatch, per
// spec.md §4.6.
func (p *Peer) readMessage(br *bufio.Reader) (command string, payload []byte, err error) {
	for {
		if err := p.syncToMagic(br); err != nil {
			return "", nil, err
		}

		header := make([]byte, headerSize-4)
		if _, err := io.ReadFull(br, header); err != nil {
			return "", nil, err
		}
		cmdBytes := header[0:commandSize]
		length := binary.LittleEndian.Uint32(header[commandSize : commandSize+4])
		wantChecksum := header[commandSize+4 : commandSize+8]

		if length > 32*1024*1024 {
			// Implausible payload size; treat as desync and restart.
			continue
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return "", nil, err
		}

		checksum := bitcoin.DoubleSHA256(body)
		if string(checksum[:4]) != string(wantChecksum) {
			// Checksum mismatch: the framing assumption was wrong.
			// Resync from scratch rather than trusting this length.
			continue
		}

		cmd := trimCommand(cmdBytes)
		return cmd, body, nil
	}
}

// syncToMagic consumes bytes from br until the next 4 bytes read match
// p.magic, shifting one byte at a time on a mismatch.
func (p *Peer) syncToMagic(br *bufio.Reader) error {
	var window [4]byte
	if _, err := io.ReadFull(br, window[:]); err != nil {
		return err
	}
	for window != p.magic {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		window[0], window[1], window[2], window[3] = window[1], window[2], window[3], b
	}
	return nil
}

func trimCommand(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
