package webrtc

import "github.com/pion/webrtc/v3"

const DataChannelProtocol = "file-transfer"

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

type Config struct {
	STUNServers []string
	// IncludeLoopback gathers loopback candidates, needed when both peers
	// run on one machine with no other interface.
	IncludeLoopback bool
}

func (c Config) configuration() webrtc.Configuration {
	servers := c.STUNServers
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: servers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func dataChannelInit() *webrtc.DataChannelInit {
	protocolName := DataChannelProtocol
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:  &ordered,
		Protocol: &protocolName,
	}
}
