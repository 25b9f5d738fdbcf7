package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehobbit85/chromanode/internal/chain"
)

func TestHashRoundTripsThroughDisplayHex(t *testing.T) {
	want, err := chain.ChainhashFromStr("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26")
	require.NoError(t, err)

	s := chain.ChainhashString(*want)
	got, err := reversedHexToHash(s)
	require.NoError(t, err)

	assert.Equal(t, *want, *got)
}

func TestHashToReversedHex_Matches(t *testing.T) {
	h, err := chain.ChainhashFromStr("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	require.NoError(t, err)

	assert.Equal(t, "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f", hashToReversedHex(*h))
}
