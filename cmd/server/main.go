package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/peerchat/peerchat-node/pkg/config"
	"github.com/peerchat/peerchat-node/pkg/server"
	"github.com/peerchat/peerchat-node/pkg/server/api"
	"github.com/peerchat/peerchat-node/pkg/storage"
	"github.com/peerchat/peerchat-node/pkg/transport"
)

const defaultConfigPath = "~/.peerchat/config.toml"

var (
	configPath  = flag.String("config", defaultConfigPath, "Path to config file")
	port        = flag.Int("port", 0, "Override the p2p listen port")
	apiPort     = flag.Int("api-port", 0, "Override the operator API port")
	generateKey = flag.Bool("genkey", false, "Generate a new node key")
)

func main() {
	flag.Parse()

	printBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Node.Port = *port
	}
	if *apiPort != 0 {
		cfg.API.Port = *apiPort
	}

	keyPath, err := config.ExpandPath(cfg.Node.KeyPath)
	if err != nil {
		log.Fatalf("Failed to resolve key path: %v", err)
	}
	privateKey, err := loadOrGenerateKey(keyPath, *generateKey)
	if err != nil {
		log.Fatalf("Failed to load/generate key: %v", err)
	}
	log.Printf("✓ Node key loaded from %s", keyPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := transport.NewP2P(ctx, &transport.P2PConfig{
		Port:           cfg.Node.Port,
		PrivateKey:     privateKey,
		EnableDHT:      cfg.Node.EnableDHT,
		BootstrapPeers: cfg.Node.BootstrapPeers,
	})
	if err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}
	log.Printf("✓ Listening on port %d as %s", cfg.Node.Port, tr.Self())

	engine := server.NewEngine(tr)

	dbPath, err := config.ExpandPath(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	db, err := storage.NewChatDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := engine.AttachDatabase(db); err != nil {
		log.Fatalf("Failed to attach database: %v", err)
	}
	log.Printf("✓ Database ready at %s", dbPath)

	go engine.Run(ctx)

	apiServer := api.NewServer(engine, &api.Config{
		Port:       cfg.API.Port,
		EnableCORS: cfg.API.EnableCORS,
		RateLimit:  cfg.API.RateLimit,
	})
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.Printf("Operator API stopped: %v", err)
		}
	}()
	log.Printf("✓ Operator API on port %d", cfg.API.Port)

	fmt.Println()
	fmt.Println("Dialable addresses:")
	for _, addr := range tr.AddrStrings() {
		fmt.Printf("   %s\n", addr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	waitForShutdown(cancel, tr, db)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║            Peerchat Server v1.0                   ║")
	fmt.Println("║      Decentralized group chat over libp2p         ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func loadOrGenerateKey(keyPath string, generate bool) (libp2pcrypto.PrivKey, error) {
	if _, err := os.Stat(keyPath); err == nil && !generate {
		log.Println("Loading existing node key...")
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, err
		}
		return libp2pcrypto.UnmarshalPrivateKey(data)
	}

	log.Println("Generating new Ed25519 key pair...")
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	data, err := libp2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, err
	}
	log.Printf("✓ New key saved to %s", keyPath)

	return priv, nil
}

func waitForShutdown(cancel context.CancelFunc, tr *transport.P2P, db *storage.ChatDB) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("Shutting down gracefully...")

	cancel()

	if err := tr.Close(); err != nil {
		log.Printf("Error closing transport: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("✓ Server stopped")
}
