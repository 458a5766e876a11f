package witness

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const mandateWitnessTypeString = "Mandate mandate)Mandate(uint256 chainId,address tribunal,address recipient,uint256 expires,address token,uint256 minimumAmount,uint256 baselinePriorityFee,uint256 scalingFactor,bytes32 salt)"

func TestParseMandateWitnessTypeString(t *testing.T) {
	schema, err := Parse(mandateWitnessTypeString)
	require.NoError(t, err)
	require.Equal(t, "Mandate", schema.StructName)
	require.Equal(t, "mandate", schema.VariableName)
	require.Len(t, schema.Params, 9)
	require.Equal(t, "chainId", schema.Params[0].Name)
	require.Equal(t, "uint256", schema.Params[0].Type)
	require.Equal(t, "salt", schema.Params[8].Name)
	require.Equal(t, "bytes32", schema.Params[8].Type)

	require.Equal(t, "Mandate(uint256,address,address,uint256,address,uint256,uint256,uint256,bytes32)", schema.Canonical())
}

func TestParseRejectsMalformedStrings(t *testing.T) {
	cases := []string{
		"",
		"Mandate mandate)Mandate(uint256 chainId",
		"MandateXmandate)Mandate(uint256 chainId)",
		"Mandate mandate)Other(uint256 chainId)",
		"Mandate mandate)Mandate()",
	}
	for _, c := range cases {
		_, err := Parse(c)
		require.ErrorIs(t, err, ErrTypeParse, "input: %q", c)
	}
}

func mandateValues(salt [32]byte) map[string]interface{} {
	return map[string]interface{}{
		"chainId":             big.NewInt(8453),
		"tribunal":            common.HexToAddress("0xfaBE000011112222333344445555666677776c1F"),
		"recipient":           common.HexToAddress("0x1100000000000000000000000000000000000011"),
		"expires":             big.NewInt(1703026800),
		"token":               common.HexToAddress("0x5500000000000000000000000000000000000055"),
		"minimumAmount":       big.NewInt(990000000000000000),
		"baselinePriorityFee": big.NewInt(0),
		"scalingFactor":       new(big.Int).SetUint64(1000000000100000000),
		"salt":                salt,
	}
}

func TestStructHashMissingField(t *testing.T) {
	schema, err := Parse(mandateWitnessTypeString)
	require.NoError(t, err)
	values := mandateValues([32]byte{1})
	delete(values, "tribunal")
	_, err = schema.StructHash(values)
	require.ErrorIs(t, err, ErrMissingField)
}

func TestStructHashSaltIndependence(t *testing.T) {
	schema, err := Parse(mandateWitnessTypeString)
	require.NoError(t, err)

	h1, err := schema.StructHash(mandateValues([32]byte{1}))
	require.NoError(t, err)
	h2, err := schema.StructHash(mandateValues([32]byte{2}))
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}

func TestStructHashDeterministic(t *testing.T) {
	schema, err := Parse(mandateWitnessTypeString)
	require.NoError(t, err)

	salt := [32]byte{9, 9, 9}
	h1, err := schema.StructHash(mandateValues(salt))
	require.NoError(t, err)
	h2, err := schema.StructHash(mandateValues(salt))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
