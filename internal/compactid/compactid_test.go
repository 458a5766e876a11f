package compactid

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackBijection(t *testing.T) {
	cases := []Fields{
		{IsMultichain: true, ResetPeriod: 0, AllocatorID: big.NewInt(0), InputToken: common.HexToAddress("0x0")},
		{IsMultichain: false, ResetPeriod: 7, AllocatorID: maxAllocatorID, InputToken: common.HexToAddress("0xffffffffffffffffffffffffffffffffffffff")},
		{IsMultichain: true, ResetPeriod: 4, AllocatorID: big.NewInt(123), InputToken: common.HexToAddress("0x1155000000000000000000000000000000ee66")},
	}
	for _, tc := range cases {
		id, err := Pack(tc)
		require.NoError(t, err)
		got := Unpack(id)
		require.Equal(t, tc.IsMultichain, got.IsMultichain)
		require.Equal(t, tc.ResetPeriod, got.ResetPeriod)
		require.Equal(t, 0, tc.AllocatorID.Cmp(got.AllocatorID))
		require.Equal(t, tc.InputToken, got.InputToken)
	}
}

func TestPackHighBitInverted(t *testing.T) {
	multichain, err := Pack(Fields{IsMultichain: true, AllocatorID: big.NewInt(1), InputToken: common.HexToAddress("0x1")})
	require.NoError(t, err)
	single, err := Pack(Fields{IsMultichain: false, AllocatorID: big.NewInt(1), InputToken: common.HexToAddress("0x1")})
	require.NoError(t, err)

	require.True(t, new(uint256.Int).Rsh(multichain, 255).IsZero())
	require.False(t, new(uint256.Int).Rsh(single, 255).IsZero())
}

func TestPackRejectsOutOfRangeFields(t *testing.T) {
	_, err := Pack(Fields{ResetPeriod: 8, AllocatorID: big.NewInt(0)})
	require.ErrorIs(t, err, ErrFieldOverflow)

	tooBig := new(big.Int).Add(maxAllocatorID, big.NewInt(1))
	_, err = Pack(Fields{ResetPeriod: 0, AllocatorID: tooBig})
	require.ErrorIs(t, err, ErrFieldOverflow)
}
