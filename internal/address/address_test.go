package address

import (
	"testing"

	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bt/v2/bscript"
	"github.com/stretchr/testify/require"
)

func TestExtract_P2PKH(t *testing.T) {
	priv, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	script, err := bscript.NewP2PKHFromPubKeyEC(priv.PubKey())
	require.NoError(t, err)

	wantAddr, err := bscript.NewAddressFromPublicKey(priv.PubKey(), true)
	require.NoError(t, err)

	got := Extract(*script, true)
	require.Len(t, got, 1)
	require.Equal(t, wantAddr.AddressString, got[0])
}

func TestExtract_Testnet(t *testing.T) {
	priv, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	script, err := bscript.NewP2PKHFromPubKeyEC(priv.PubKey())
	require.NoError(t, err)

	wantAddr, err := bscript.NewAddressFromPublicKey(priv.PubKey(), false)
	require.NoError(t, err)

	got := Extract(*script, false)
	require.Len(t, got, 1)
	require.Equal(t, wantAddr.AddressString, got[0])
}

func TestExtract_NonStandardScriptReturnsEmptySet(t *testing.T) {
	script := []byte{bscript.OpFALSE, bscript.OpRETURN}
	got := Extract(script, true)
	require.Empty(t, got)
}
