package signature_test

import (
	"testing"

	"github.com/ardanlabs/consensus/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	v, r, s, err := signature.Sign(value, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if err := signature.VerifySignature(v, r, s); err != nil {
		t.Fatalf("Should be able to verify the signature: %s", err)
	}

	addr, err := signature.FromAddress(value, v, r, s)
	if err != nil {
		t.Fatalf("Should be able to generate from address: %s", err)
	}

	if from != addr {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address.")
	}

	if addr := signature.Address(pk.PublicKey); addr != from {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should derive the right address from the public key.")
	}
}

func Test_SignatureString(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	v, r, s, err := signature.Sign("round-trip", pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	str := signature.SignatureString(v, r, s)

	v2, r2, s2, err := signature.ToVRSFromHexSignature(str)
	if err != nil {
		t.Fatalf("Should be able to parse the signature string: %s", err)
	}

	if v.Cmp(v2) != 0 || r.Cmp(r2) != 0 || s.Cmp(s2) != 0 {
		t.Fatalf("Should get back the same signature values.")
	}

	if _, _, _, err := signature.ToVRSFromHexSignature("0x1234"); err == nil {
		t.Fatalf("Should reject a short signature string.")
	}
}

func Test_TamperedData(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	v, r, s, err := signature.Sign("original", pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	addr, err := signature.FromAddress("tampered", v, r, s)
	if err == nil && addr == from {
		t.Fatalf("Should not recover the signer for different data.")
	}
}

func Test_Hash(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	h1 := signature.Hash(value)
	h2 := signature.Hash(value)
	if h1 != h2 {
		t.Logf("got: %s", h1)
		t.Logf("exp: %s", h2)
		t.Fatalf("Should get back the same hash twice.")
	}

	if len(h1) != 66 {
		t.Fatalf("Should get back a 0x prefixed 32 byte hash, got %d chars.", len(h1))
	}

	b, err := signature.HashBytes(h1)
	if err != nil {
		t.Fatalf("Should be able to decode the hash: %s", err)
	}
	if len(b) != 32 {
		t.Fatalf("Should decode to 32 bytes, got %d.", len(b))
	}

	if signature.Hash(struct{ Name string }{Name: "Jill"}) == h1 {
		t.Fatalf("Should get different hashes for different values.")
	}
}
