package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type account struct {
	Account database.AccountID `json:"account"`
	Balance uint64             `json:"balance"`
	Nonce   uint64             `json:"nonce"`
}

type accounts struct {
	LatestBlock string    `json:"latest_block"`
	Height      uint64    `json:"height"`
	Uncommitted int       `json:"uncommitted"`
	Accounts    []account `json:"accounts"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	act, err := queryAccount(database.PublicKeyToAccountID(privateKey.PublicKey))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Account: %s  Balance: %d  Nonce: %d\n", act.Account, act.Balance, act.Nonce)
	return nil
}

// queryAccount asks the node for the committed state of the account.
func queryAccount(accountID database.AccountID) (account, error) {
	var acts accounts
	if err := get(fmt.Sprintf("%s/v1/accounts/list/%s", url, accountID), &acts); err != nil {
		return account{}, err
	}

	if len(acts.Accounts) == 0 {
		return account{Account: accountID}, nil
	}

	return acts.Accounts[0], nil
}

func get(url string, dataRecv any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(dataRecv)
}
