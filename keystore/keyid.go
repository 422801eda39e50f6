package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/f3rmion/multisig/group"
)

var ErrInvalidKeyID = errors.New("keystore: invalid key id")

// KeyID names an aggregate key: the epoch it was generated for and its
// encoded public key.
type KeyID struct {
	EpochIndex uint32
	PublicKey  []byte
}

func NewKeyID(epoch uint32, pubkey group.Point) KeyID {
	return KeyID{EpochIndex: epoch, PublicKey: pubkey.Bytes()}
}

// String renders the id as <epoch>_<hex pubkey>.
func (k KeyID) String() string {
	return strconv.FormatUint(uint64(k.EpochIndex), 10) + "_" + hex.EncodeToString(k.PublicKey)
}

func ParseKeyID(s string) (KeyID, error) {
	epoch, pub, ok := strings.Cut(s, "_")
	if !ok {
		return KeyID{}, fmt.Errorf("%w: %q", ErrInvalidKeyID, s)
	}
	e, err := strconv.ParseUint(epoch, 10, 32)
	if err != nil {
		return KeyID{}, fmt.Errorf("%w: epoch: %v", ErrInvalidKeyID, err)
	}
	b, err := hex.DecodeString(pub)
	if err != nil || len(b) == 0 {
		return KeyID{}, fmt.Errorf("%w: public key %q", ErrInvalidKeyID, pub)
	}
	return KeyID{EpochIndex: uint32(e), PublicKey: b}, nil
}
