package frost

import (
	"crypto/rand"
	"errors"
	"fmt"
	"testing"

	"github.com/f3rmion/multisig/bjj"
	"github.com/f3rmion/multisig/group"
	"github.com/f3rmion/multisig/scheme"
)

type dealt struct {
	commitments map[uint32]*DKGUnverifiedCommitment
	shares      map[uint32]map[uint32]group.Scalar // dealer -> recipient -> share
}

func deal(t *testing.T, f *FROST, ctx HashContext, threshold int, idxs []uint32, secrets map[uint32]group.Scalar) *dealt {
	t.Helper()
	recipients := make(map[uint32]uint32)
	for _, i := range idxs {
		recipients[i] = i
	}
	d := &dealt{
		commitments: make(map[uint32]*DKGUnverifiedCommitment),
		shares:      make(map[uint32]map[uint32]group.Scalar),
	}
	for _, i := range idxs {
		c, shares, err := f.GenerateSharesAndCommitment(rand.Reader, ctx, i, secrets[i], SharingParameters{
			Threshold:  threshold,
			Recipients: recipients,
		})
		if err != nil {
			t.Fatalf("dealer %d: %v", i, err)
		}
		d.commitments[i] = c
		d.shares[i] = shares
	}
	return d
}

// keygen runs the DKG math for all parties locally and returns each
// party's secret share plus the aggregate and per-party public keys.
func keygen(t *testing.T, f *FROST, threshold int, idxs []uint32) (map[uint32]group.Scalar, group.Point, map[uint32]group.Point) {
	t.Helper()
	var ctx HashContext
	copy(ctx[:], "test context")

	d := deal(t, f, ctx, threshold, idxs, nil)

	hashes := make(map[uint32]HashCommitment)
	for i, c := range d.commitments {
		hashes[i] = GenerateHashCommitment(c)
	}
	if bad := f.ValidateCommitments(ctx, threshold, d.commitments, hashes); len(bad) != 0 {
		t.Fatalf("honest commitments rejected: %v", bad)
	}

	verified := make(map[uint32]*DKGCommitment)
	for i, c := range d.commitments {
		verified[i] = &DKGCommitment{Commitments: c.Commitments}
	}
	if !f.CheckHighDegreeCommitments(verified) {
		t.Fatal("high degree check failed")
	}

	secrets := make(map[uint32]group.Scalar)
	for _, recv := range idxs {
		received := make(map[uint32]group.Scalar)
		for _, dealer := range idxs {
			share := d.shares[dealer][recv]
			if !f.VerifyShare(share, d.commitments[dealer].Commitments, recv) {
				t.Fatalf("share from %d to %d rejected", dealer, recv)
			}
			received[dealer] = share
		}
		secrets[recv] = f.SumShares(received)
	}
	return secrets, f.DeriveAggregatePubkey(verified), f.DeriveLocalPubkeys(verified, idxs)
}

func TestDKG(t *testing.T) {
	g := &bjj.BJJ{}
	f := New(g)
	idxs := []uint32{1, 2, 3, 4}
	threshold := 2

	secrets, y, pubkeys := keygen(t, f, threshold, idxs)

	t.Run("LocalPubkeysMatchSecrets", func(t *testing.T) {
		for _, i := range idxs {
			want := g.NewPoint().ScalarMult(secrets[i], g.Generator())
			if !pubkeys[i].Equal(want) {
				t.Errorf("public key share %d mismatch", i)
			}
		}
	})

	t.Run("AnyQuorumInterpolatesKey", func(t *testing.T) {
		for _, set := range [][]uint32{{1, 2}, {2, 4}, {1, 3, 4}} {
			sum := g.NewScalar()
			for _, i := range set {
				l, err := f.LagrangeCoefficient(i, set)
				if err != nil {
					t.Fatal(err)
				}
				sum = g.NewScalar().Add(sum, g.NewScalar().Mul(l, secrets[i]))
			}
			if !g.NewPoint().ScalarMult(sum, g.Generator()).Equal(y) {
				t.Errorf("set %v does not interpolate the aggregate key", set)
			}
		}
	})
}

func TestValidateCommitmentsRejects(t *testing.T) {
	g := &bjj.BJJ{}
	f := New(g)
	var ctx HashContext
	idxs := []uint32{1, 2, 3}
	d := deal(t, f, ctx, 2, idxs, nil)

	hashes := make(map[uint32]HashCommitment)
	for i, c := range d.commitments {
		hashes[i] = GenerateHashCommitment(c)
	}

	t.Run("BadZKP", func(t *testing.T) {
		c := *d.commitments[2]
		c.ZKP.Z = g.NewScalar().Add(c.ZKP.Z, g.NewScalar().SetUint64(1))
		commitments := map[uint32]*DKGUnverifiedCommitment{1: d.commitments[1], 2: &c, 3: d.commitments[3]}
		h := map[uint32]HashCommitment{1: hashes[1], 2: GenerateHashCommitment(&c), 3: hashes[3]}
		bad := f.ValidateCommitments(ctx, 2, commitments, h)
		if fmt.Sprint(bad) != "[2]" {
			t.Errorf("got %v", bad)
		}
	})

	t.Run("HashMismatch", func(t *testing.T) {
		h := map[uint32]HashCommitment{1: hashes[1], 2: hashes[2], 3: hashes[1]}
		bad := f.ValidateCommitments(ctx, 2, d.commitments, h)
		if fmt.Sprint(bad) != "[3]" {
			t.Errorf("got %v", bad)
		}
	})

	t.Run("WrongContext", func(t *testing.T) {
		var other HashContext
		other[0] = 1
		bad := f.ValidateCommitments(other, 2, d.commitments, hashes)
		if len(bad) != 3 {
			t.Errorf("got %v", bad)
		}
	})

	t.Run("BadShare", func(t *testing.T) {
		tweaked := g.NewScalar().Add(d.shares[1][2], g.NewScalar().SetUint64(1))
		if f.VerifyShare(tweaked, d.commitments[1].Commitments, 2) {
			t.Error("tweaked share accepted")
		}
	})
}

func TestHashCommitmentString(t *testing.T) {
	var h HashCommitment
	h[0] = 0x9b
	parsed, err := ParseHashCommitment(h.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != h {
		t.Error("hash commitment string roundtrip failed")
	}
	if _, err := ParseHashCommitment("9b00"); err == nil {
		t.Error("missing prefix accepted")
	}
}

func TestThresholdSigning(t *testing.T) {
	for _, id := range scheme.All() {
		t.Run(string(id), func(t *testing.T) {
			s, err := scheme.New(id)
			if err != nil {
				t.Fatal(err)
			}
			g := s.Group()
			f := New(g)
			idxs := []uint32{1, 2, 3, 4}

			secrets, y, pubkeys := keygen(t, f, 2, idxs)
			// Scale like keygen does so every scheme accepts the key.
			factor := uint64(1)
			for product := g.NewPoint().Set(y); !s.IsPubkeyCompatible(product); product = g.NewPoint().Add(product, y) {
				factor++
			}
			fs := g.NewScalar().SetUint64(factor)
			y = g.NewPoint().ScalarMult(fs, y)
			for i := range secrets {
				secrets[i] = g.NewScalar().Mul(secrets[i], fs)
				pubkeys[i] = g.NewPoint().ScalarMult(fs, pubkeys[i])
			}

			payload := make([]byte, 32)
			rand.Read(payload)
			signers := []uint32{1, 3, 4}

			nonces := make(map[uint32]*SecretNoncePair)
			in := &SigningInputs{Payload: payload, Pubkey: y, Commitments: make(map[uint32]SigningCommitment)}
			for _, i := range signers {
				n, err := f.GenerateNoncePair(rand.Reader)
				if err != nil {
					t.Fatal(err)
				}
				nonces[i] = n
				in.Commitments[i] = n.Commitment()
			}

			responses := make(map[uint32]group.Scalar)
			for _, i := range signers {
				r, err := f.GenerateLocalSig(s, nonces[i], in, i, secrets[i])
				if err != nil {
					t.Fatal(err)
				}
				responses[i] = r
				if !nonces[i].IsConsumed() {
					t.Error("nonces not consumed")
				}
			}

			sig, err := f.Aggregate(s, in, pubkeys, responses)
			if err != nil {
				t.Fatal(err)
			}
			if err := s.Verify(y, payload, sig); err != nil {
				t.Fatal(err)
			}

			t.Run("InvalidShareNamed", func(t *testing.T) {
				bad := make(map[uint32]group.Scalar)
				for k, v := range responses {
					bad[k] = v
				}
				bad[3] = g.NewScalar().Add(bad[3], g.NewScalar().SetUint64(1))
				_, err := f.Aggregate(s, in, pubkeys, bad)
				var invalid *InvalidSharesError
				if !errors.As(err, &invalid) || fmt.Sprint(invalid.Parties) != "[3]" {
					t.Errorf("got %v", err)
				}
			})

			t.Run("NonceReuseRefused", func(t *testing.T) {
				_, err := f.GenerateLocalSig(s, nonces[1], in, 1, secrets[1])
				if !errors.Is(err, ErrNonceConsumed) {
					t.Errorf("got %v", err)
				}
			})
		})
	}
}

func TestZeroizeBeforeUse(t *testing.T) {
	g := &bjj.BJJ{}
	f := New(g)
	n, err := f.GenerateNoncePair(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	n.Zeroize()
	n.Zeroize()
	if !n.IsConsumed() {
		t.Fatal("zeroized pair should be consumed")
	}
	in := &SigningInputs{Payload: []byte("m"), Pubkey: g.Generator(), Commitments: map[uint32]SigningCommitment{1: n.Commitment()}}
	if _, err := f.GenerateLocalSig(scheme.NewBabyJubjub(g), n, in, 1, g.NewScalar()); !errors.Is(err, ErrNonceConsumed) {
		t.Errorf("got %v", err)
	}
}

func TestLagrangeDuplicate(t *testing.T) {
	f := New(&bjj.BJJ{})
	if _, err := f.LagrangeCoefficient(1, []uint32{1, 2, 2}); !errors.Is(err, ErrDuplicateIndex) {
		t.Errorf("got %v", err)
	}
}
