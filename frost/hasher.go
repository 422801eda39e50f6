package frost

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/f3rmion/multisig/group"
	"golang.org/x/crypto/blake2b"
)

// HashContext binds proofs of knowledge to a single ceremony. Every
// participant derives the same value from the ceremony id and the
// participant set.
type HashContext [32]byte

// HashCommitment is a Blake2b-256 digest of a party's DKG commitment,
// published before the commitment itself is revealed.
type HashCommitment [32]byte

// String renders h as 0x-prefixed lowercase hex, its wire form.
func (h HashCommitment) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseHashCommitment parses the 0x-prefixed hex form.
func ParseHashCommitment(s string) (HashCommitment, error) {
	var h HashCommitment
	if !strings.HasPrefix(s, "0x") {
		return h, errors.New("hash commitment missing 0x prefix")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errors.New("hash commitment must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

func indexBytes(idx uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], idx)
	return b[:]
}

// GenerateHashCommitment hashes every coefficient commitment followed by
// the proof of knowledge.
func GenerateHashCommitment(c *DKGUnverifiedCommitment) HashCommitment {
	h, _ := blake2b.New256(nil)
	for _, p := range c.Commitments {
		h.Write(p.Bytes())
	}
	h.Write(c.ZKP.R.Bytes())
	h.Write(c.ZKP.Z.Bytes())
	var out HashCommitment
	copy(out[:], h.Sum(nil))
	return out
}

// zkpChallenge is H(C0 || R || idx || context).
func (f *FROST) zkpChallenge(idx uint32, context HashContext, c0, r group.Point) (group.Scalar, error) {
	return f.group.HashToScalar(c0.Bytes(), r.Bytes(), indexBytes(idx), context[:])
}

// bindingFactor is H("I" || idx || payload || commitment list), where the
// list holds idx || D || E for every signer in ascending order. A zero
// factor would drop E from the commitment, so it is replaced by one.
func (f *FROST) bindingFactor(idx uint32, payload, encodedCommitments []byte) (group.Scalar, error) {
	rho, err := f.group.HashToScalar([]byte("I"), indexBytes(idx), payload, encodedCommitments)
	if err != nil {
		return nil, err
	}
	if rho.IsZero() {
		return f.group.NewScalar().SetUint64(1), nil
	}
	return rho, nil
}
