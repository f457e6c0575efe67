package netbridge

import (
	"fmt"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Summarize decodes an Ethernet frame into a one-line description for
// trace logs.
func Summarize(frame []byte) string {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return fmt.Sprintf("undecodable frame (%d bytes)", len(frame))
	}
	eth := ethLayer.(*layers.Ethernet)

	var b strings.Builder
	fmt.Fprintf(&b, "%s > %s %s", eth.SrcMAC, eth.DstMAC, eth.EthernetType)

	if arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		op := "request"
		if arp.Operation == layers.ARPReply {
			op = "reply"
		}
		fmt.Fprintf(&b, " arp %s", op)
	} else if nl := pkt.NetworkLayer(); nl != nil {
		src, dst := nl.NetworkFlow().Endpoints()
		fmt.Fprintf(&b, " %s > %s", src, dst)
		if tl := pkt.TransportLayer(); tl != nil {
			fmt.Fprintf(&b, " %s", tl.LayerType())
			sp, dp := tl.TransportFlow().Endpoints()
			fmt.Fprintf(&b, " %s > %s", sp, dp)
		}
	}

	fmt.Fprintf(&b, " len=%d", len(frame))
	return b.String()
}
