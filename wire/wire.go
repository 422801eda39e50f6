package wire

import (
	"errors"
	"fmt"

	"github.com/f3rmion/multisig/codec"
)

// Version identifies an envelope encoding. A node only decodes versions
// it knows; anything else is rejected outright.
type Version uint16

// CurrentVersion is the version this node emits.
const CurrentVersion Version = 1

// Kind is the MultisigData discriminant.
type Kind uint32

const (
	KindKeygen  Kind = 0
	KindSigning Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindKeygen:
		return "keygen"
	case KindSigning:
		return "signing"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

var (
	ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")
	ErrUnknownKind        = errors.New("wire: unknown ceremony kind")
	ErrUnknownVariant     = errors.New("wire: unknown stage message variant")
)

// Payload is a stage message that can travel inside an envelope.
type Payload interface {
	Kind() Kind
	// Variant is the message's position in its ceremony's message enum.
	Variant() uint32
	EncodePayload(w *codec.Writer)
}

// Message is the envelope: a ceremony id and one stage message.
type Message struct {
	CeremonyID uint64
	Data       Payload
}

// VersionedMessage is what the transport carries.
type VersionedMessage struct {
	Version Version
	Payload []byte
}

// Decoder decodes the payload of one ceremony kind given its variant.
type Decoder func(r *codec.Reader, variant uint32) (Payload, error)

// Decoders maps each kind to its decoder.
type Decoders map[Kind]Decoder

// Serialize encodes m for version. Asking for a version this node does
// not implement is a programming error.
func Serialize(version Version, m Message) VersionedMessage {
	if version != 1 {
		panic(fmt.Sprintf("wire: cannot serialize for version %d", version))
	}
	return VersionedMessage{Version: version, Payload: encodeV1(m)}
}

func encodeV1(m Message) []byte {
	w := codec.NewWriter()
	w.PutU64(m.CeremonyID)
	w.PutU32(uint32(m.Data.Kind()))
	w.PutU32(m.Data.Variant())
	m.Data.EncodePayload(w)
	return w.Bytes()
}

// Deserialize decodes vm. It fails for unsupported versions, unknown
// kinds or variants, malformed payloads and trailing bytes.
func Deserialize(vm VersionedMessage, decoders Decoders) (Message, error) {
	if vm.Version != 1 {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, vm.Version)
	}
	r := codec.NewReader(vm.Payload)
	id := r.U64()
	kind := Kind(r.U32())
	variant := r.U32()
	if err := r.Err(); err != nil {
		return Message{}, err
	}
	decode, ok := decoders[kind]
	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	data, err := decode(r, variant)
	if err != nil {
		return Message{}, err
	}
	if err := r.Finish(); err != nil {
		return Message{}, err
	}
	return Message{CeremonyID: id, Data: data}, nil
}
