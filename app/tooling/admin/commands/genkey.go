package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
)

// GenKey creates a new private key for a node or wallet.
func GenKey(args conf.Args, keyPath string) error {
	name := args.Num(1)
	if name == "" {
		return errors.New("genkey requires a name: genkey <name>")
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(keyPath, 0755); err != nil {
		return err
	}

	path := filepath.Join(keyPath, name+".ecdsa")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key %s already exists", path)
	}

	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		return err
	}

	fmt.Printf("Key: %s  Account: %s\n", path, database.PublicKeyToAccountID(privateKey.PublicKey))

	return nil
}
