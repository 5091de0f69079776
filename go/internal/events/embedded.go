package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog/log"
)

// EmbeddedConfig configures the in-process NATS server
type EmbeddedConfig struct {
	Host     string
	Port     int // -1 picks a random free port
	StoreDir string
}

// EmbeddedServer runs a JetStream-enabled NATS server inside the process, for
// single-box installs with no broker of their own.
type EmbeddedServer struct {
	server *server.Server
}

func StartEmbeddedServer(cfg EmbeddedConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "lightsout-events",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
		NoSigs:     true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}

	log.Info().
		Str("url", ns.ClientURL()).
		Str("store_dir", cfg.StoreDir).
		Msg("embedded NATS server started")

	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the connection URL for clients
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
	log.Info().Msg("embedded NATS server stopped")
}
