package cryptox_test

import (
	"testing"

	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := cryptox.NewSealer([]byte("test-master-key"))
	require.NoError(t, err)

	sealed, err := s.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	require.NotContains(t, sealed, "JBSWY3DPEHPK3PXP")

	again, err := s.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	require.NotEqual(t, sealed, again, "nonce must be random per seal")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", plain)
}

func TestSealer_WrongKey(t *testing.T) {
	a, err := cryptox.NewSealer([]byte("key-a"))
	require.NoError(t, err)
	b, err := cryptox.NewSealer([]byte("key-b"))
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	require.ErrorIs(t, err, cryptox.ErrSealed)

	_, err = a.Open("not-base64!")
	require.ErrorIs(t, err, cryptox.ErrSealed)
	_, err = a.Open("")
	require.ErrorIs(t, err, cryptox.ErrSealed)
}

func TestSealer_EmptyKey(t *testing.T) {
	_, err := cryptox.NewSealer(nil)
	require.Error(t, err)
}

func TestLoadOrCreateSealer(t *testing.T) {
	path := t.TempDir() + "/master.key"

	a, err := cryptox.LoadOrCreateSealer(path)
	require.NoError(t, err)
	sealed, err := a.Seal("value")
	require.NoError(t, err)

	b, err := cryptox.LoadOrCreateSealer(path)
	require.NoError(t, err)
	plain, err := b.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "value", plain)
}
