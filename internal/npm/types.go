package npm

// Stream is a port-forwarding rule as returned by the NPM API. NPM owns the
// full lifecycle of these records; this service never invents ids.
type Stream struct {
	ID             uint                   `json:"id"`
	IncomingPort   int                    `json:"incoming_port"`
	ForwardingHost string                 `json:"forwarding_host"`
	ForwardingPort int                    `json:"forwarding_port"`
	TCPForwarding  bool                   `json:"tcp_forwarding"`
	UDPForwarding  bool                   `json:"udp_forwarding"`
	CertificateID  int                    `json:"certificate_id"`
	Enabled        bool                   `json:"enabled"`
	Meta           map[string]interface{} `json:"meta"`
}

// StreamRequest is the payload for creating or updating a stream. The
// defaults (TCP on, UDP off, no certificate, empty meta) match what the NPM
// API requires on every write.
type StreamRequest struct {
	IncomingPort   int                    `json:"incoming_port"`
	ForwardingHost string                 `json:"forwarding_host"`
	ForwardingPort int                    `json:"forwarding_port"`
	TCPForwarding  bool                   `json:"tcp_forwarding"`
	UDPForwarding  bool                   `json:"udp_forwarding"`
	CertificateID  int                    `json:"certificate_id"`
	Meta           map[string]interface{} `json:"meta"`
}

// NewStreamRequest builds a request with the NPM-required defaults applied.
func NewStreamRequest(incomingPort int, forwardingHost string, forwardingPort int) StreamRequest {
	return StreamRequest{
		IncomingPort:   incomingPort,
		ForwardingHost: forwardingHost,
		ForwardingPort: forwardingPort,
		TCPForwarding:  true,
		UDPForwarding:  false,
		CertificateID:  0,
		Meta:           map[string]interface{}{},
	}
}
