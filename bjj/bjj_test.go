package bjj

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/f3rmion/multisig/group"
)

func random(t *testing.T, g group.Group) group.Scalar {
	t.Helper()
	s, err := g.RandomScalar(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestScalarArithmetic(t *testing.T) {
	g := &BJJ{}
	a, b := random(t, g), random(t, g)

	if !g.NewScalar().Sub(g.NewScalar().Add(a, b), b).Equal(a) {
		t.Error("(a+b)-b != a")
	}
	if !g.NewScalar().Add(a, g.NewScalar().Negate(a)).IsZero() {
		t.Error("a + -a != 0")
	}
	inv, err := g.NewScalar().Invert(a)
	if err != nil {
		t.Fatal(err)
	}
	if !g.NewScalar().Mul(a, inv).Equal(g.NewScalar().SetUint64(1)) {
		t.Error("a * a^-1 != 1")
	}
	if _, err := g.NewScalar().Invert(g.NewScalar()); err == nil {
		t.Error("inverted zero")
	}
}

func TestScalarEncoding(t *testing.T) {
	g := &BJJ{}
	a := random(t, g)
	b := a.Bytes()
	if len(b) != ScalarLen {
		t.Fatalf("encoded scalar has %d bytes", len(b))
	}
	back, err := g.NewScalar().SetBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(a) {
		t.Error("scalar round trip")
	}

	// The order itself reduces to zero.
	zero, _ := g.NewScalar().SetBytes(g.Order())
	if !zero.IsZero() {
		t.Error("order did not reduce to zero")
	}
}

func TestZeroize(t *testing.T) {
	g := &BJJ{}
	s := random(t, g)
	s.Zeroize()
	if !s.IsZero() {
		t.Error("zeroized scalar is not zero")
	}
}

func TestHashToScalar(t *testing.T) {
	g := &BJJ{}
	a, _ := g.HashToScalar([]byte("ab"), []byte("c"))
	b, _ := g.HashToScalar([]byte("abc"))
	c, _ := g.HashToScalar([]byte("abd"))
	if !a.Equal(b) {
		t.Error("hash depends on how the input is split")
	}
	if a.Equal(c) {
		t.Error("different inputs hash to the same scalar")
	}
}

func TestPointArithmetic(t *testing.T) {
	g := &BJJ{}
	a, b := random(t, g), random(t, g)
	p := g.NewPoint().ScalarMult(a, g.Generator())
	q := g.NewPoint().ScalarMult(b, g.Generator())

	if !g.NewPoint().Sub(g.NewPoint().Add(p, q), q).Equal(p) {
		t.Error("(P+Q)-Q != P")
	}
	if !g.NewPoint().Add(p, g.NewPoint().Negate(p)).IsIdentity() {
		t.Error("P + -P is not the identity")
	}
	sum := g.NewPoint().ScalarMult(g.NewScalar().Add(a, b), g.Generator())
	if !sum.Equal(g.NewPoint().Add(p, q)) {
		t.Error("(a+b)G != aG + bG")
	}
	if !g.NewPoint().IsIdentity() || g.Generator().IsIdentity() {
		t.Error("identity or generator misreported")
	}
}

func TestPointEncoding(t *testing.T) {
	g := &BJJ{}
	p := g.NewPoint().ScalarMult(random(t, g), g.Generator())
	back, err := g.NewPoint().SetBytes(p.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(p) || !bytes.Equal(back.Bytes(), p.Bytes()) {
		t.Error("point round trip")
	}

	// (0, -1) has order two.
	var low twistededwards.PointAffine
	low.X.SetZero()
	low.Y.SetOne()
	low.Y.Neg(&low.Y)
	enc := low.Bytes()
	if _, err := g.NewPoint().SetBytes(enc[:]); err == nil {
		t.Error("accepted a low order point")
	}
}
