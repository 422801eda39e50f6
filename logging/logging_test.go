package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedacted(t *testing.T) {
	f := Redacted("secret", []byte{0xde, 0xad, 0xbe, 0xef})
	assert.Equal(t, "secret", f.Key)
	assert.Equal(t, "<redacted:4>", f.String)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud")
	require.Error(t, err)

	l, err := New("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestForCeremonyFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ForCeremony(zap.New(core), "evm", "signing", 7).Info("stage done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "evm(7)", fields["ceremony_id"])
	assert.Equal(t, "signing", fields["ceremony_type"])
}
