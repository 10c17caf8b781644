package realtime

import "time"

type Config struct {
	ICEServers      []ICEServerConfig
	PortRange       PortRange
	MaxSDPSize      int
	CaptureInterval time.Duration
	ICEBuffer       int
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

type PortRange struct {
	Min int
	Max int
}
