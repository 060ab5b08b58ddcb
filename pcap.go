package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type tcpSegment struct {
	seq     uint32
	payload []byte
}

// readPcap extracts the server side of the first TCP stream from port in a
// pcap or pcapng capture and splits it into messages. Retransmitted
// segments are dropped.
func readPcap(path string, port int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	var src gopacket.PacketDataSource
	var link layers.LinkType
	if bytes.Equal(magic, []byte{0x0a, 0x0d, 0x0d, 0x0a}) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("pcapng: %w", err)
		}
		src, link = r, r.LinkType()
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("pcap: %w", err)
		}
		src, link = r, r.LinkType()
	}

	stream, err := serverStream(gopacket.NewPacketSource(src, link), layers.TCPPort(port))
	if err != nil {
		return nil, err
	}
	logDebug("pcap %s: %d bytes from port %d", path, len(stream), port)
	return readFrames(bytes.NewReader(stream))
}

// serverStream reassembles the payload sent from port, in sequence order.
// Only the first connection seen from that port is used.
func serverStream(ps *gopacket.PacketSource, port layers.TCPPort) ([]byte, error) {
	var (
		segs    []tcpSegment
		flow    gopacket.Flow
		haveID  bool
		haveISN bool
		isn     uint32
	)
	for {
		pkt, err := ps.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read packet: %w", err)
		}
		tl := pkt.Layer(layers.LayerTypeTCP)
		nl := pkt.NetworkLayer()
		if tl == nil || nl == nil {
			continue
		}
		tcp := tl.(*layers.TCP)
		if tcp.SrcPort != port {
			continue
		}
		if !haveID {
			flow = nl.NetworkFlow()
			haveID = true
		} else if nl.NetworkFlow() != flow {
			continue
		}
		if tcp.SYN {
			isn, haveISN = tcp.Seq+1, true
		}
		if len(tcp.Payload) == 0 {
			continue
		}
		segs = append(segs, tcpSegment{
			seq:     tcp.Seq,
			payload: append([]byte(nil), tcp.Payload...),
		})
	}
	// Without the handshake the stream starts at the lowest sequence number
	// captured.
	if !haveISN {
		for i, s := range segs {
			if i == 0 || s.seq < isn {
				isn = s.seq
			}
		}
	}
	for i := range segs {
		segs[i].seq -= isn
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })

	var out []byte
	for _, s := range segs {
		end := s.seq + uint32(len(s.payload))
		have := uint32(len(out))
		switch {
		case end <= have:
			continue
		case s.seq > have:
			return out, fmt.Errorf("capture is missing %d bytes at offset %d", s.seq-have, have)
		}
		out = append(out, s.payload[have-s.seq:]...)
	}
	return out, nil
}
