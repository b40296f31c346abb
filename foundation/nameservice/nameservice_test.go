package nameservice_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardanlabs/consensus/foundation/blockchain/database"
	"github.com/ardanlabs/consensus/foundation/nameservice"
	"github.com/stretchr/testify/require"
)

func Test_NameService(t *testing.T) {
	ns, err := nameservice.New("../../zblock/accounts")
	require.NoError(t, err)

	const node2 = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

	require.Equal(t, "node2", ns.Lookup(node2))
	require.Equal(t, "node2", ns.Lookup(database.AccountID(strings.ToLower(string(node2)))), "lookups ignore checksum casing")
	require.Equal(t, "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76", ns.Lookup("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76"))

	names := ns.Copy()
	require.Len(t, names, 3)
	require.Equal(t, "node2", names[node2])
}

func Test_NameServiceBadKey(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.ecdsa"), []byte("not a key"), 0600))

	_, err := nameservice.New(root)
	require.Error(t, err)
}
