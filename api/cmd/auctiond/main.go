// Command auctiond runs the sealed-bid settlement service: the HTTP API, the
// auction engine and the computation dispatcher, talking to a sandbox over
// vsock, TCP or in-process.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudx-io/sealedsettle/api"
	"github.com/cloudx-io/sealedsettle/auction"
	"github.com/cloudx-io/sealedsettle/batch"
	"github.com/cloudx-io/sealedsettle/computation"
	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclave"
	"github.com/cloudx-io/sealedsettle/ledger"
	"github.com/cloudx-io/sealedsettle/protocol"
	"github.com/cloudx-io/sealedsettle/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load config: %v", err)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("ERROR: Failed to open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	led := ledger.NewStoreLedger()
	gov := protocol.NewService(st, protocol.WithTimelock(cfg.Protocol.AuthorityTimelock))
	if err := bootstrap(ctx, cfg, st, led, gov); err != nil {
		log.Fatalf("ERROR: Failed to initialize protocol: %v", err)
	}

	transport, err := newTransport(cfg.Enclave)
	if err != nil {
		log.Fatalf("ERROR: Failed to set up sandbox transport: %v", err)
	}
	dispatcher := computation.NewDispatcher(transport, computation.WithTimeout(cfg.Settlement.ComputationTimeout))
	go dispatcher.Run(ctx, cfg.Settlement.SweepInterval)

	engine, err := auction.NewEngine(st, led, dispatcher, auction.Config{
		RecipientPublicKey: cfg.Settlement.RecipientPublicKey,
		PaymentAsset:       cfg.Settlement.PaymentAsset,
	})
	if err != nil {
		log.Fatalf("ERROR: Failed to create auction engine: %v", err)
	}

	srv := api.NewServer(engine, batch.NewCoordinator(engine), gov, api.Config{
		Decimals:       cfg.Server.DisplayDecimals,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("INFO: auctiond listening on %s (store=%s, sandbox=%s)", cfg.Server.Addr, cfg.Store.Driver, cfg.Enclave.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ERROR: HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Printf("INFO: Shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: HTTP shutdown: %v", err)
	}
}

func openStore(cfg StoreConfig) (store.Store, error) {
	if cfg.Driver == "postgres" {
		return store.NewPostgresStore(&cfg.Postgres)
	}
	return store.NewMemoryStore(), nil
}

// bootstrap initializes the protocol singleton on first start and mints the
// configured genesis balances. A restart against an initialized store is a
// no-op.
func bootstrap(ctx context.Context, cfg *Config, st store.Store, led *ledger.StoreLedger, gov *protocol.Service) error {
	_, err := gov.Initialize(ctx, cfg.Protocol.Authority, cfg.Protocol.FeeRecipient)
	if errors.Is(err, core.ErrProtocolAlreadyInitialized) {
		log.Printf("INFO: Protocol already initialized, skipping genesis")
		return nil
	}
	if err != nil {
		return err
	}
	if cfg.Protocol.FeeBps != core.DefaultProtocolFeeBps {
		if err := gov.UpdateFee(ctx, cfg.Protocol.Authority, cfg.Protocol.FeeBps); err != nil {
			return err
		}
	}
	if len(cfg.Ledger.Genesis) == 0 {
		return nil
	}
	return st.Update(ctx, func(tx store.Tx) error {
		for _, g := range cfg.Ledger.Genesis {
			if err := led.Mint(tx, ledger.Account{Owner: g.Owner, Asset: g.Asset}, g.Amount); err != nil {
				return err
			}
		}
		log.Printf("INFO: Minted %d genesis balances", len(cfg.Ledger.Genesis))
		return nil
	})
}

func newTransport(cfg EnclaveConfig) (computation.Transport, error) {
	switch cfg.Mode {
	case "vsock":
		return &computation.ConnTransport{Dial: computation.VsockDialer(cfg.CID, cfg.Port)}, nil
	case "tcp":
		return &computation.ConnTransport{Dial: computation.TCPDialer(cfg.Addr)}, nil
	}
	log.Printf("WARNING: Running in-process sandbox with an unsigned development attester")
	km, err := enclave.NewKeyManager()
	if err != nil {
		return nil, err
	}
	return &computation.LocalTransport{Server: enclave.NewServer(enclave.NewDevelopmentAttester(), km, cfg.MaxWorkers)}, nil
}
