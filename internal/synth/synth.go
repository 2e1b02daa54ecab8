package synth

import (
	"net"

	"github.com/robin/relaytun/internal/frame"
	"github.com/robin/relaytun/internal/packet"
	"github.com/robin/relaytun/internal/util"
)

// TunnelIP is the Tunnel Endpoint's own address on the virtual interface.
var TunnelIP = net.ParseIP("10.0.0.2").To4()

// RelayClient is the subset of relayclient.Client the synthesizer needs.
// Expressed as an interface so tests can substitute a fake relay.
type RelayClient interface {
	ConnectFlow(id, destIP string, destPort uint16) (*frame.Response, error)
	SendData(id string, payload []byte)
	SendDisconnect(id string)
	SendShutdownWrite(id string)
}

// Writer writes one complete outbound IPv4/TCP datagram to the virtual
// interface. Implementations must serialize concurrent calls.
type Writer interface {
	WriteSegment(wire []byte) error
}

// Synthesizer is the Tunnel Endpoint's flow table and TCP synthesizer: it
// turns inbound client segments into relay requests, and relay responses
// into outbound segments toward the client.
type Synthesizer struct {
	relay  RelayClient
	writer Writer
	table  *table
}

// New creates a Synthesizer bound to relay (the relay channel client) and
// writer (the virtual interface's serialized writer).
func New(relay RelayClient, writer Writer) *Synthesizer {
	return &Synthesizer{relay: relay, writer: writer, table: newTable()}
}

// HandleInbound dispatches one parsed inbound segment: a fresh SYN starts
// a new flow, a duplicate SYN or a segment on an unknown flow is dropped,
// payload on an established flow is forwarded, and a payload-less FIN
// half-closes the relayed connection.
func (s *Synthesizer) HandleInbound(seg *packet.TCPSegment) {
	id := flowID(seg.SrcIP, seg.SrcPort, seg.DstIP, seg.DstPort)

	if seg.SYN() && !seg.ACK() {
		if _, exists := s.table.get(id); exists {
			// Duplicate SYN on an existing flow: drop.
			return
		}
		s.handleSYN(id, seg)
		return
	}

	flow, exists := s.table.get(id)
	if !exists {
		// No matching flow: drop silently.
		return
	}

	if len(seg.Payload) == 0 {
		if seg.FIN() {
			// A client FIN half-closes the relayed connection instead of
			// being silently ignored like a pure ACK.
			s.relay.SendShutdownWrite(id)
		}
		// Pure ACK / window update: ignored by the synthesizer.
		return
	}

	s.handlePayload(id, flow, seg)
}

func (s *Synthesizer) handleSYN(id string, seg *packet.TCPSegment) {
	resp, err := s.relay.ConnectFlow(id, seg.DstIP.String(), seg.DstPort)
	if err != nil || resp.Type == frame.RespError {
		// Connect failed: drop; do not create a flow; do not transmit
		// anything.
		if err != nil {
			util.LogDebug("synth: connect_flow(%s) failed: %v", id, err)
		} else {
			util.LogDebug("synth: connect_flow(%s) rejected: %s", id, resp.Message)
		}
		return
	}

	flow := &Flow{
		ClientPort: seg.SrcPort,
		ServerIP:   append(net.IP(nil), seg.DstIP...),
		ServerPort: seg.DstPort,
		appSeq:     seg.Seq + 1,
		ourSeq:     2,
		state:      Established,
	}
	flow.mu.Lock()
	s.table.insert(id, flow)
	util.Stats.AddFlow()

	wire := packet.BuildSegment(packet.BuildParams{
		SrcIP:   seg.DstIP,
		DstIP:   seg.SrcIP,
		SrcPort: seg.DstPort,
		DstPort: seg.SrcPort,
		Seq:     1,
		Ack:     flow.appSeq,
		Flags:   packet.FlagSYN | packet.FlagACK,
	})
	s.writeSegment(wire)
	flow.mu.Unlock()
}

func (s *Synthesizer) handlePayload(id string, flow *Flow, seg *packet.TCPSegment) {
	flow.mu.Lock()
	defer flow.mu.Unlock()

	flow.appSeq = seg.Seq + uint32(len(seg.Payload))
	s.relay.SendData(id, seg.Payload)

	wire := packet.BuildSegment(packet.BuildParams{
		SrcIP:   seg.DstIP,
		DstIP:   seg.SrcIP,
		SrcPort: seg.DstPort,
		DstPort: seg.SrcPort,
		Seq:     flow.ourSeq,
		Ack:     flow.appSeq,
		Flags:   packet.FlagACK,
	})
	s.writeSegment(wire)
	util.Stats.AddBytesIn(len(seg.Payload))
}

// HandleResponse routes one relay response by tag: Data turns into one or
// more outbound segments, Disconnected/Error tears the flow down, and a
// stray Connected (normally consumed by a pending connect waiter) is
// ignored.
func (s *Synthesizer) HandleResponse(resp *frame.Response) {
	switch resp.Type {
	case frame.RespData:
		s.handleData(resp)
	case frame.RespDisconnected, frame.RespError:
		s.handleClose(resp.ID)
	case frame.RespConnected:
	}
}

func (s *Synthesizer) handleData(resp *frame.Response) {
	flow, exists := s.table.get(resp.ID)
	if !exists {
		return
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	for off := 0; off < len(resp.Payload); off += packet.MaxSegmentLen {
		end := off + packet.MaxSegmentLen
		if end > len(resp.Payload) {
			end = len(resp.Payload)
		}
		chunk := resp.Payload[off:end]

		wire := packet.BuildSegment(packet.BuildParams{
			SrcIP:   flow.ServerIP,
			DstIP:   TunnelIP,
			SrcPort: flow.ServerPort,
			DstPort: flow.ClientPort,
			Seq:     flow.ourSeq,
			Ack:     flow.appSeq,
			Flags:   packet.FlagPSH | packet.FlagACK,
			Payload: chunk,
		})
		s.writeSegment(wire)
		flow.ourSeq += uint32(len(chunk))
	}
	util.Stats.AddBytesOut(len(resp.Payload))
}

func (s *Synthesizer) handleClose(id string) {
	flow, exists := s.table.get(id)
	if !exists {
		return
	}

	flow.mu.Lock()
	// Emit a synthesized FIN+ACK so the client's TCP stack observes an
	// orderly half-close instead of silent inactivity.
	wire := packet.BuildSegment(packet.BuildParams{
		SrcIP:   flow.ServerIP,
		DstIP:   TunnelIP,
		SrcPort: flow.ServerPort,
		DstPort: flow.ClientPort,
		Seq:     flow.ourSeq,
		Ack:     flow.appSeq,
		Flags:   packet.FlagFIN | packet.FlagACK,
	})
	s.writeSegment(wire)
	flow.state = Closed
	flow.mu.Unlock()

	s.table.remove(id)
	util.Stats.RemoveFlow()
}

// Shutdown clears the flow table. It does not touch the relay channel or
// virtual interface — callers are responsible for closing those first.
func (s *Synthesizer) Shutdown() {
	s.table.clear()
}

func (s *Synthesizer) writeSegment(wire []byte) {
	if err := s.writer.WriteSegment(wire); err != nil {
		util.LogDebug("synth: interface write failed: %v", err)
	}
	packet.ReleaseSegment(wire)
}
