package rtc

import (
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// readSenderReports drains RTCP from the outbound sender and keeps the
// entry's transport stats current from the remote side's receiver reports.
// Runs until the sender is closed with the peer connection.
func (m *Manager) readSenderReports(e *peerEntry, sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, rep := range rr.Reports {
				// FractionLost is an 8-bit fixed-point fraction.
				e.setStats(ConnStats{
					FractionLost: float64(rep.FractionLost) / 256,
					Jitter:       rep.Jitter,
				})
			}
		}
	}
}
