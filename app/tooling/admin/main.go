// This program performs administrative tasks against the chain held in a
// node's storage.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/consensus/app/tooling/admin/commands"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/ardanlabs/consensus/foundation/blockchain/storage"
	"github.com/ardanlabs/consensus/foundation/logger"
	"github.com/ardanlabs/consensus/foundation/nameservice"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
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
	cfg := struct {
		conf.Version
		conf.Args
		GenesisPath string `conf:"default:zblock/genesis.json"`
		Storage     string `conf:"default:disk"`
		DBPath      string `conf:"default:zblock/node1/"`
		KeyPath     string `conf:"default:zblock/accounts/"`
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "ADMIN"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// Generating keys does not need the chain.
	if cfg.Args.Num(0) == "genkey" {
		return commands.GenKey(cfg.Args, cfg.KeyPath)
	}

	gen, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("loading genesis: %w", err)
	}

	strg, err := storage.Open(cfg.Storage, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...))
	}

	// Constructing the database replays and verifies every stored block.
	db, err := database.New(gen, strg, ev)
	if err != nil {
		strg.Close()
		return fmt.Errorf("verifying chain: %w", err)
	}
	defer db.Close()

	ns, err := nameservice.New(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("loading names: %w", err)
	}

	return processCommands(cfg.Args, db, ns)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args conf.Args, db *database.Database, ns *nameservice.NameService) error {
	switch args.Num(0) {
	case "verify":
		if err := commands.Verify(db); err != nil {
			return fmt.Errorf("verifying chain: %w", err)
		}
	case "bals":
		if err := commands.Balances(args, db, ns); err != nil {
			return fmt.Errorf("getting balances: %w", err)
		}
	case "blocks":
		if err := commands.Blocks(args, db); err != nil {
			return fmt.Errorf("getting blocks: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q: use genkey, verify, bals or blocks", args.Num(0))
	}

	return nil
}
