package peer

import (
	"fmt"
	"strings"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/blockchain/genesis"
	"github.com/google/btree"
)

const treeDegree = 8

// Validator represents an identity eligible to vote and, under proof of
// stake, to propose blocks.
type Validator struct {
	AccountID database.AccountID `json:"account"`
	Stake     uint64             `json:"stake"`
	Host      string             `json:"host"`
}

// key is the ordering key for the validator. Ids compare without regard to
// the checksum casing.
func (v Validator) key() string {
	return strings.ToLower(string(v.AccountID))
}

func lessValidator(a, b Validator) bool {
	return a.key() < b.key()
}

// =============================================================================

// ValidatorSet is the fixed set of validators for the chain ordered by
// account id. It is never changed after construction and is safe for
// concurrent use.
type ValidatorSet struct {
	tree    *btree.BTreeG[Validator]
	ordered []Validator
	index   map[string]int
	total   uint64
}

// NewValidatorSet constructs a validator set. A validator can only be listed
// once.
func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	tree := btree.NewG(treeDegree, lessValidator)

	for _, v := range validators {
		if !v.AccountID.IsAccountID() {
			return nil, fmt.Errorf("validator %q is not a valid account", v.AccountID)
		}
		if _, replaced := tree.ReplaceOrInsert(v); replaced {
			return nil, fmt.Errorf("validator %s listed twice", v.AccountID)
		}
	}

	vs := ValidatorSet{
		tree:    tree,
		ordered: make([]Validator, 0, tree.Len()),
		index:   make(map[string]int, tree.Len()),
	}

	tree.Ascend(func(v Validator) bool {
		vs.index[v.key()] = len(vs.ordered)
		vs.ordered = append(vs.ordered, v)
		vs.total += v.Stake
		return true
	})

	return &vs, nil
}

// FromGenesis constructs the validator set listed in the genesis file.
func FromGenesis(gen genesis.Genesis) (*ValidatorSet, error) {
	validators := make([]Validator, len(gen.Validators))
	for i, v := range gen.Validators {
		validators[i] = Validator{
			AccountID: database.AccountID(v.Account),
			Stake:     v.Stake,
			Host:      v.Host,
		}
	}

	return NewValidatorSet(validators)
}

// Len returns the number of validators in the set.
func (vs *ValidatorSet) Len() int {
	return len(vs.ordered)
}

// TotalStake returns the sum of the stake of every validator.
func (vs *ValidatorSet) TotalStake() uint64 {
	return vs.total
}

// Lookup finds the validator for the specified account.
func (vs *ValidatorSet) Lookup(accountID database.AccountID) (Validator, bool) {
	return vs.tree.Get(Validator{AccountID: accountID})
}

// Contains reports whether the account is a validator.
func (vs *ValidatorSet) Contains(accountID database.AccountID) bool {
	return vs.tree.Has(Validator{AccountID: accountID})
}

// Index returns the position of the validator in id order.
func (vs *ValidatorSet) Index(accountID database.AccountID) (int, bool) {
	idx, exists := vs.index[strings.ToLower(string(accountID))]
	return idx, exists
}

// At returns the validator at the specified position in id order.
func (vs *ValidatorSet) At(idx int) Validator {
	return vs.ordered[idx]
}

// Values returns a copy of the validators in ascending id order.
func (vs *ValidatorSet) Values() []Validator {
	validators := make([]Validator, len(vs.ordered))
	copy(validators, vs.ordered)
	return validators
}

// Peers returns the hosts of every validator other than the specified one.
func (vs *ValidatorSet) Peers(self database.AccountID) []Peer {
	var peers []Peer
	for _, v := range vs.ordered {
		if v.Host == "" || v.AccountID.Equal(self) {
			continue
		}
		peers = append(peers, New(v.Host))
	}
	return peers
}
