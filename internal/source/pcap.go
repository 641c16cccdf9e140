package source

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPSource replays CSI records from a packet capture of the UDP stream.
// Both classic pcap and pcapng files are accepted. Only UDP payloads are
// considered; a non-zero port keeps packets whose source or destination
// port matches.
type PCAPSource struct {
	path    string
	port    int
	f       *os.File
	packets *gopacket.PacketSource
	pending []string
}

// OpenPCAP opens a capture file. A missing or unreadable capture is
// reported as ErrUnavailable.
func OpenPCAP(path string, port int) (*PCAPSource, error) {
	if path == "" {
		return nil, unavailable("no capture file configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, unavailable("open %s: %v", path, err)
	}

	var (
		data gopacket.PacketDataSource
		link layers.LinkType
	)
	if r, err := pcapgo.NewReader(f); err == nil {
		data, link = r, r.LinkType()
	} else {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			f.Close()
			return nil, unavailable("rewind %s: %v", path, serr)
		}
		ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if ngErr != nil {
			f.Close()
			return nil, unavailable("read capture %s: %v", path, ngErr)
		}
		data, link = ng, ng.LinkType()
	}

	packets := gopacket.NewPacketSource(data, link)
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	return &PCAPSource{path: path, port: port, f: f, packets: packets}, nil
}

func (s *PCAPSource) Kind() string { return KindPCAP }

// Path returns the capture being replayed.
func (s *PCAPSource) Path() string { return s.path }

// Next returns the next record carried in a matching UDP payload, or
// io.EOF at the end of the capture. A truncated final packet also ends the
// capture.
func (s *PCAPSource) Next(ctx context.Context) (string, error) {
	for {
		if len(s.pending) > 0 {
			rec := s.pending[0]
			s.pending = s.pending[1:]
			return rec, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		pkt, err := s.packets.NextPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return "", io.EOF
			}
			return "", &TransientError{Err: err}
		}
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		if s.port != 0 && int(udp.DstPort) != s.port && int(udp.SrcPort) != s.port {
			continue
		}
		s.pending = splitRecords(udp.Payload)
	}
}

func (s *PCAPSource) Close() error {
	return s.f.Close()
}
