package ed25519

import (
	"bytes"
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"testing"
)

func TestScalar(t *testing.T) {
	g := &Ed25519{}

	t.Run("AddSub", func(t *testing.T) {
		a, _ := g.RandomScalar(rand.Reader)
		b, _ := g.RandomScalar(rand.Reader)
		diff := g.NewScalar().Sub(g.NewScalar().Add(a, b), b)
		if !diff.Equal(a) {
			t.Error("(a+b)-b != a")
		}
	})

	t.Run("MulInvert", func(t *testing.T) {
		a, _ := g.RandomScalar(rand.Reader)
		aInv, err := g.NewScalar().Invert(a)
		if err != nil {
			t.Fatal(err)
		}
		if !g.NewScalar().Mul(a, aInv).Equal(g.NewScalar().SetUint64(1)) {
			t.Error("a*a^-1 != 1")
		}
	})

	t.Run("Zeroize", func(t *testing.T) {
		a, _ := g.RandomScalar(rand.Reader)
		a.Zeroize()
		if !a.IsZero() {
			t.Error("zeroized scalar should be zero")
		}
	})
}

func TestPoint(t *testing.T) {
	g := &Ed25519{}

	t.Run("GeneratorEncoding", func(t *testing.T) {
		want := "5866666666666666666666666666666666666666666666666666666666666666"
		if got := hex.EncodeToString(g.Generator().Bytes()); got != want {
			t.Errorf("generator encoding %s", got)
		}
	})

	t.Run("MatchesStdlibPublicKey", func(t *testing.T) {
		seed := make([]byte, stded25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			t.Fatal(err)
		}
		priv := stded25519.NewKeyFromSeed(seed)

		digest := sha512.Sum512(seed)
		digest[0] &= 248
		digest[31] &= 127
		digest[31] |= 64
		le := digest[:32]
		be := make([]byte, 32)
		for i := range le {
			be[i] = le[31-i]
		}
		a, _ := g.NewScalar().SetBytes(be)
		pub := g.NewPoint().ScalarMult(a, g.Generator())

		if !bytes.Equal(pub.Bytes(), priv.Public().(stded25519.PublicKey)) {
			t.Error("public key does not match crypto/ed25519")
		}
	})

	t.Run("AddSub", func(t *testing.T) {
		s1, _ := g.RandomScalar(rand.Reader)
		s2, _ := g.RandomScalar(rand.Reader)
		P := g.NewPoint().ScalarMult(s1, g.Generator())
		Q := g.NewPoint().ScalarMult(s2, g.Generator())
		diff := g.NewPoint().Sub(g.NewPoint().Add(P, Q), Q)
		if !diff.Equal(P) {
			t.Error("(P+Q)-Q != P")
		}
	})

	t.Run("IdentityRoundtrip", func(t *testing.T) {
		restored, err := g.NewPoint().SetBytes(g.NewPoint().Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if !restored.IsIdentity() {
			t.Error("decoded identity is not identity")
		}
	})

	t.Run("BytesRoundtrip", func(t *testing.T) {
		s, _ := g.RandomScalar(rand.Reader)
		P := g.NewPoint().ScalarMult(s, g.Generator())
		restored, err := g.NewPoint().SetBytes(P.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if !restored.Equal(P) {
			t.Error("point bytes roundtrip failed")
		}
	})
}
