// Package webrtctest wires pion peers onto an in-process virtual network so
// negotiation tests never touch host interfaces.
package webrtctest

import (
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

const (
	cidr     = "10.0.0.0/24"
	ServerIP = "10.0.0.1"
	ClientIP = "10.0.0.2"
)

// Pair is a started router with one Net per side.
type Pair struct {
	Router *vnet.Router
	Server *vnet.Net
	Client *vnet.Net
}

func NewPair(t testing.TB) *Pair {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	server, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ServerIP}})
	if err != nil {
		t.Fatalf("new server net: %v", err)
	}
	client, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ClientIP}})
	if err != nil {
		t.Fatalf("new client net: %v", err)
	}
	if err := router.AddNet(server); err != nil {
		t.Fatalf("add server net: %v", err)
	}
	if err := router.AddNet(client); err != nil {
		t.Fatalf("add client net: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	return &Pair{Router: router, Server: server, Client: client}
}

// API returns a pion API bound to n.
func API(n *vnet.Net) *webrtc.API {
	se := webrtc.SettingEngine{}
	se.SetNet(n)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}
