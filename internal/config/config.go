// Package config holds the engine's flag-driven configuration, grounded
// on daemon/config/config.go's DefaultConfig()/LoadConfig() shape,
// retargeted from gRPC/REST/QUIC listener addresses to the swarm
// engine's own listener set: -l (listen), -c (control channel), -g
// (HTTP gateway), -s (stats UI), -o (checkpoint interval), -f (file or
// directory to seed), -d (dest dir), -e (hash function), -i (discard
// window for live swarms), -W (choke watermark), -z (chunk size), -p
// (PEX), -B (max bootstrap peers), -w (MAXSPEED default). The letters
// are those of SPEC_FULL.md §6's flag table, but -o, -d, -e, -i, -W,
// -p, -B and -w mean different things here, and §6's scan-directory,
// zero-state, live-input, progress, debug and watchdog options have no
// flag.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantarax/swarmd/internal/wire"
)

// Config holds one engine process's configuration.
type Config struct {
	ListenAddr      string // -l: UDP address for the swarm protocol
	ControlAddr     string // -c: TCP address for the CRLF command channel
	GatewayAddr     string // -g: HTTP byte-range content gateway address
	StatsAddr       string // -s: HTTP stats/web UI address ("" disables it)
	CheckpointEvery int    // -o: seconds between automatic checkpoints
	ContentPath     string // -f: file or directory to seed, or empty for a leech-only engine
	DestDir         string // -d: destination directory for leeched content
	HashFunc        wire.MerkleHashFunction // -e: 0=SHA-1, 1=BLAKE3, 2=SHA-256
	DiscardWindow   uint32 // -i: live-swarm discard window, in chunks
	ChokeWatermark  int    // -W: queued-request watermark for CHOKE/UNCHOKE
	ChunkSize       uint32 // -z: chunk size in bytes
	PEXEnabled      bool   // -p: advertise/accept PEX records
	MaxPeers        int    // -B: maximum bootstrap/PEX peers to dial
	MaxSpeed        float64 // -w: default MAXSPEED in bytes/sec, 0 = unlimited
	StateDir        string  // sidecar and keystore directory, derived from DestDir
}

// DefaultConfig returns the engine's defaults before flag parsing.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".local", "share", "swarmd")
	return &Config{
		ListenAddr:      ":3908",
		ControlAddr:     "127.0.0.1:62524",
		GatewayAddr:     "127.0.0.1:8080",
		StatsAddr:       "",
		CheckpointEvery: 30,
		DestDir:         ".",
		HashFunc:        wire.HashSHA1,
		DiscardWindow:   0,
		ChokeWatermark:  4,
		ChunkSize:       1024,
		PEXEnabled:      true,
		MaxPeers:        20,
		MaxSpeed:        0,
		StateDir:        stateDir,
	}
}

// ParseFlags populates a Config from the process's command-line flags,
// starting from DefaultConfig()'s values.
func ParseFlags(args []string) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("swarmd", flag.ContinueOnError)

	fs.StringVar(&cfg.ListenAddr, "l", cfg.ListenAddr, "UDP listen address for the swarm protocol")
	fs.StringVar(&cfg.ControlAddr, "c", cfg.ControlAddr, "TCP address for the CRLF control channel")
	fs.StringVar(&cfg.GatewayAddr, "g", cfg.GatewayAddr, "HTTP address for the byte-range content gateway")
	fs.StringVar(&cfg.StatsAddr, "s", cfg.StatsAddr, "HTTP address for the stats web UI, empty to disable")
	fs.IntVar(&cfg.CheckpointEvery, "o", cfg.CheckpointEvery, "seconds between automatic checkpoints")
	fs.StringVar(&cfg.ContentPath, "f", cfg.ContentPath, "file or directory to seed")
	fs.StringVar(&cfg.DestDir, "d", cfg.DestDir, "destination directory for leeched content")
	hashFn := fs.Int("e", int(cfg.HashFunc), "merkle hash function: 0=SHA-1, 1=BLAKE3, 2=SHA-256")
	discard := fs.Uint("i", uint(cfg.DiscardWindow), "live swarm discard window, in chunks")
	fs.IntVar(&cfg.ChokeWatermark, "W", cfg.ChokeWatermark, "queued-request watermark for CHOKE/UNCHOKE")
	chunkSize := fs.Uint("z", uint(cfg.ChunkSize), "chunk size in bytes")
	fs.BoolVar(&cfg.PEXEnabled, "p", cfg.PEXEnabled, "advertise and accept peer exchange records")
	fs.IntVar(&cfg.MaxPeers, "B", cfg.MaxPeers, "maximum bootstrap/PEX peers to dial")
	fs.Float64Var(&cfg.MaxSpeed, "w", cfg.MaxSpeed, "default MAXSPEED in bytes/sec, 0 = unlimited")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *hashFn < 0 || *hashFn > 2 {
		return nil, fmt.Errorf("config: -e must be 0, 1 or 2, got %d", *hashFn)
	}
	cfg.HashFunc = wire.MerkleHashFunction(*hashFn)
	cfg.DiscardWindow = uint32(*discard)
	cfg.ChunkSize = uint32(*chunkSize)
	if cfg.ChunkSize == 0 {
		return nil, fmt.Errorf("config: -z chunk size must be positive")
	}
	return cfg, nil
}
