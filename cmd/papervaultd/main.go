package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/papervault/blob"
	"github.com/collapsinghierarchy/papervault/blob/ipfs"
	"github.com/collapsinghierarchy/papervault/blob/local"
	"github.com/collapsinghierarchy/papervault/config"
	"github.com/collapsinghierarchy/papervault/ledger"
	"github.com/collapsinghierarchy/papervault/ledger/contract"
	"github.com/collapsinghierarchy/papervault/pkc/custodian"
	"github.com/collapsinghierarchy/papervault/routes"
	"github.com/collapsinghierarchy/papervault/scrutiny"
	"github.com/collapsinghierarchy/papervault/service"
	"github.com/collapsinghierarchy/papervault/store"
	"github.com/collapsinghierarchy/papervault/store/memory"
	"github.com/collapsinghierarchy/papervault/store/postgres"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv("PAPERVAULT_CONFIG"), "path to YAML config")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	timeout := time.Duration(cfg.CallTimeout)

	//----------------------------------------------------------------------
	// submission store
	//----------------------------------------------------------------------
	var st store.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			log.Fatalf("pgxpool.New: %v", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()
		defer pool.Close()
		st = postgres.NewStore(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		st = memory.New()
	}

	//----------------------------------------------------------------------
	// content store
	//----------------------------------------------------------------------
	var blobs blob.Store
	switch cfg.Blob.Backend {
	case "ipfs":
		blobs = ipfs.New(cfg.Blob.IPFSURL, timeout, log)
	case "local":
		ls, err := local.Open(cfg.Blob.LocalPath, cfg.Blob.MinFreeGB, log)
		if err != nil {
			log.Fatalf("open blob store: %v", err)
		}
		defer ls.Close()
		blobs = ls
	}

	//----------------------------------------------------------------------
	// custody: keys, ledger, scorer
	//----------------------------------------------------------------------
	cust, err := custodian.New(custodian.Config{Dir: cfg.KeysDir, KeyBits: cfg.KeyBits, Logger: log})
	if err != nil {
		log.Fatalf("custodian: %v", err)
	}

	var rec ledger.Recorder = ledger.Nop{}
	if cfg.Ledger.RPCURL != "" {
		client, err := contract.New(cfg.Ledger.RPCURL, cfg.Ledger.CredentialFile, timeout, log)
		if err != nil {
			log.Fatalf("ledger client: %v", err)
		}
		log.WithField("public_key", client.PublicKeyHex()).Info("ledger credential loaded")
		rec = client
	}

	var scorer scrutiny.Scorer = scrutiny.Nop{}
	if cfg.ScorerURL != "" {
		scorer = scrutiny.NewClient(cfg.ScorerURL, timeout)
	}

	svc, err := service.New(service.Config{
		Store:       st,
		Blobs:       blobs,
		Ledger:      rec,
		Scorer:      scorer,
		Custodian:   cust,
		Logger:      log,
		MaxDocBytes: cfg.MaxDocBytes,
		CallTimeout: timeout,
	})
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	//----------------------------------------------------------------------
	// HTTP server with graceful shutdown
	//----------------------------------------------------------------------
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      routes.SetupRoutes(svc, cust, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("PaperVault listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}
}
