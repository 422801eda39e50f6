package scheme

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/secp256k1"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// Single party response vector produced by the EVM key manager tooling.
func TestEVMResponseVector(t *testing.T) {
	s := NewEVM(&secp256k1.Secp256k1{})
	g := s.Group()

	secret, _ := g.NewScalar().SetBytes(mustHex(t, "fbcb47bc85b881e0dfb31c872d4e06848f80530ccbd18fc016a27c4a744d0eba"))
	nonce, _ := g.NewScalar().SetBytes(mustHex(t, "d51e13c68bf56155a83e50fd9bc840e2a1847fb9b49cd206a577ecd1cd15e285"))
	msg := mustHex(t, "2bdc19071c7994f088103dbf8d5476d6deb6d55ee005a2f510dc7640055cc84e")

	pubkey := g.NewPoint().ScalarMult(secret, g.Generator())
	commitment := g.NewPoint().ScalarMult(nonce, g.Generator())

	c, err := s.BuildChallenge(pubkey, commitment, msg)
	if err != nil {
		t.Fatal(err)
	}
	resp := s.BuildResponse(nonce, commitment, secret, c)

	want := "beb37e87509e15cd88b19fa224441c56acc0e143cb25b9fd1e57fdafed215538"
	if got := hex.EncodeToString(resp.Bytes()); got != want {
		t.Errorf("response %s, want %s", got, want)
	}
}

func compatibleKey(t *testing.T, s Scheme) (group.Scalar, group.Point) {
	t.Helper()
	g := s.Group()
	for {
		x, err := g.RandomScalar(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		y := g.NewPoint().ScalarMult(x, g.Generator())
		if s.IsPubkeyCompatible(y) {
			return x, y
		}
	}
}

func TestSingleSignerRoundtrip(t *testing.T) {
	payload := make([]byte, 32)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}

	for _, id := range All() {
		t.Run(string(id), func(t *testing.T) {
			s, err := New(id)
			if err != nil {
				t.Fatal(err)
			}
			g := s.Group()
			x, y := compatibleKey(t, s)

			// Run several nonces so both commitment parities are hit.
			for i := 0; i < 8; i++ {
				k, _ := g.RandomScalar(rand.Reader)
				R := g.NewPoint().ScalarMult(k, g.Generator())

				c, err := s.BuildChallenge(y, R, payload)
				if err != nil {
					t.Fatal(err)
				}
				z := s.BuildResponse(k, R, x, c)
				one := g.NewScalar().SetUint64(1)
				if !s.IsPartyResponseValid(y, one, R, R, c, z) {
					t.Fatal("party response rejected")
				}
				sig := s.BuildSignature(z, R)
				if err := s.Verify(y, payload, sig); err != nil {
					t.Fatalf("signature rejected: %v", err)
				}

				other := append([]byte{}, payload...)
				other[0] ^= 1
				if err := s.Verify(y, other, sig); !errors.Is(err, ErrBadSignature) {
					t.Fatalf("tampered payload accepted: %v", err)
				}
			}
		})
	}
}

func TestCheckPayload(t *testing.T) {
	evm, _ := New(EVM)
	if err := evm.CheckPayload(make([]byte, 31)); !errors.Is(err, ErrInvalidPayload) {
		t.Error("31 byte EVM payload accepted")
	}
	sol, _ := New(Solana)
	if err := sol.CheckPayload(nil); !errors.Is(err, ErrInvalidPayload) {
		t.Error("empty Solana payload accepted")
	}
	if _, err := New("dogecoin"); !errors.Is(err, ErrUnknownScheme) {
		t.Error("unknown scheme accepted")
	}
}

func TestBitcoinCompatibility(t *testing.T) {
	s := NewBitcoin(&secp256k1.Secp256k1{})
	g := s.Group()
	_, y := compatibleKey(t, s)
	negY := g.NewPoint().Negate(y)
	if s.IsPubkeyCompatible(negY) {
		t.Error("odd y key reported compatible")
	}
}
