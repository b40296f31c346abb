package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/consensus/app/services/node/handlers"
	"github.com/ardanlabs/consensus/business/web/mid"
	"github.com/ardanlabs/consensus/foundation/blockchain/coordinator"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/mempool"
	"github.com/ardanlabs/consensus/foundation/blockchain/network"
	"github.com/ardanlabs/consensus/foundation/blockchain/peer"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage"
	"github.com/ardanlabs/consensus/foundation/events"
	"github.com/ardanlabs/consensus/foundation/logger"
	"github.com/ardanlabs/consensus/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Node struct {
			PrivateKeyPath   string        `conf:"default:zblock/accounts/node1.ecdsa"`
			AccountsFolder   string        `conf:"default:zblock/accounts/"`
			GenesisPath      string        `conf:"default:zblock/genesis.json"`
			Storage          string        `conf:"default:disk"`
			DBPath           string        `conf:"default:zblock/node1/"`
			SelectStrategy   string        `conf:"default:fair"`
			KnownPeers       []string      `conf:"default:0.0.0.0:9080;0.0.0.0:9180;0.0.0.0:9280"`
			ProposalInterval time.Duration `conf:"default:5s"`
			RoundTimeout     time.Duration `conf:"default:15s"`
			SyncInterval     time.Duration `conf:"default:1m"`
			PeerTimeout      time.Duration `conf:"default:5s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// Need to load the private key file for the node so its votes and
	// blocks can be signed and its account credited with rewards.
	privateKey, err := crypto.LoadECDSA(cfg.Node.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	strg, err := storage.Open(cfg.Node.Storage, cfg.Node.DBPath)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// The database replays the blocks held in storage and owns the head of
	// the chain from here on.
	db, err := database.New(gen, strg, ev)
	if err != nil {
		strg.Close()
		return err
	}
	defer db.Close()

	mp, err := mempool.NewWithStrategy(cfg.Node.SelectStrategy)
	if err != nil {
		return err
	}

	validators, err := peer.FromGenesis(gen)
	if err != nil {
		return err
	}

	// The name service gives the known accounts a readable name in the
	// logs. The names come from the key files in the accounts folder.
	ns, err := nameservice.New(cfg.Node.AccountsFolder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	for _, v := range validators.Values() {
		log.Infow("startup", "status", "validator", "name", ns.Lookup(v.AccountID), "account", v.AccountID, "stake", v.Stake, "host", v.Host)
	}

	// A peer set is a collection of known nodes in the network so
	// transactions, blocks and votes can be shared. Every validator host is
	// a peer.
	self := database.PublicKeyToAccountID(privateKey.PublicKey)
	peerSet := peer.NewPeerSet()
	for _, pr := range validators.Peers(self) {
		peerSet.Add(pr)
	}
	for _, host := range cfg.Node.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	net := network.New(network.Config{
		Host:      cfg.Web.PrivateHost,
		Peers:     peerSet,
		Timeout:   cfg.Node.PeerTimeout,
		EvHandler: ev,
	})

	// All the metrics for the node are collected in this registry and
	// exposed on the debug service.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpMetrics, err := mid.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering http metrics: %w", err)
	}

	// The coordinator drives the consensus rounds for this node.
	coord, err := coordinator.Run(coordinator.Config{
		DB:               db,
		Mempool:          mp,
		PrivateKey:       privateKey,
		Validators:       validators,
		Broadcaster:      net,
		ProposalInterval: cfg.Node.ProposalInterval,
		RoundTimeout:     cfg.Node.RoundTimeout,
		Registerer:       registry,
		EvHandler:        ev,
	})
	if err != nil {
		return err
	}
	defer coord.Shutdown()

	// The syncer catches this node up with the blocks its peers already
	// committed.
	syncer := network.RunSyncer(network.SyncConfig{
		Network:  net,
		Interval: cfg.Node.SyncInterval,
		Head:     db.Head,
		Deliver:  coord.OnFinalizedBlock,
	})
	defer syncer.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, coord, registry)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		DB:       db,
		Mempool:  mp,
		Coord:    coord,
		Net:      net,
		Evts:     evts,
		Metrics:  httpMetrics,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case <-coord.Done():
		return fmt.Errorf("coordinator stopped: %w", coord.Err())

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
