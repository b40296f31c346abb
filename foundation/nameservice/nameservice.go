// Package nameservice reads a folder of private key files and creates a
// name lookup for the accounts they control. The file name without the
// extension is the name.
package nameservice

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
)

const keyExtension = ".ecdsa"

// NameService maintains a map of accounts for name lookup.
type NameService struct {
	accounts map[string]string
	ids      map[string]database.AccountID
}

// New constructs a name service with the accounts of the key files found
// under the root folder.
func New(root string) (*NameService, error) {
	ns := NameService{
		accounts: make(map[string]string),
		ids:      make(map[string]database.AccountID),
	}

	fn := func(fileName string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if d.IsDir() || filepath.Ext(fileName) != keyExtension {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}

		accountID := database.PublicKeyToAccountID(privateKey.PublicKey)
		key := strings.ToLower(string(accountID))
		ns.accounts[key] = strings.TrimSuffix(filepath.Base(fileName), keyExtension)
		ns.ids[key] = accountID

		return nil
	}

	if err := filepath.WalkDir(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified account. Accounts without a
// name are returned as is.
func (ns *NameService) Lookup(accountID database.AccountID) string {
	name, exists := ns.accounts[strings.ToLower(string(accountID))]
	if !exists {
		return string(accountID)
	}
	return name
}

// Copy returns a copy of the map of accounts and names.
func (ns *NameService) Copy() map[database.AccountID]string {
	cpy := make(map[database.AccountID]string, len(ns.accounts))
	for key, name := range ns.accounts {
		cpy[ns.ids[key]] = name
	}
	return cpy
}
