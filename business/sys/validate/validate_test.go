package validate_test

import (
	"testing"

	"github.com/ardanlabs/consensus/business/sys/validate"
	"github.com/stretchr/testify/require"
)

type voteRequest struct {
	BlockHash string `json:"block_hash" validate:"required,len=66"`
	Voter     string `json:"voter" validate:"required,eth_addr"`
}

func Test_Check(t *testing.T) {
	err := validate.Check(voteRequest{
		BlockHash: "0x00",
		Voter:     "bill",
	})
	require.True(t, validate.IsFieldErrors(err))

	fields := validate.GetFieldErrors(err).Fields()
	require.Len(t, fields, 2)
	require.Contains(t, fields, "block_hash", "errors use the json names")
	require.Contains(t, fields, "voter")

	err = validate.Check(voteRequest{
		BlockHash: "0x0000000000000000000000000000000000000000000000000000000000000000",
		Voter:     "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4",
	})
	require.NoError(t, err)
}
