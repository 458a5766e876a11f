// Package compactid packs and unpacks the 256-bit compact identifier used to
// key a sponsor's resource lock: a multichain flag, a reset-period selector,
// an allocator id and the input token address, bit-packed into a single
// uint256 the way the on-chain Compact contract expects it.
package compactid

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrFieldOverflow is returned when a field does not fit in its packed width.
var ErrFieldOverflow = errors.New("compact id field overflow")

const (
	resetPeriodShift = 252
	allocatorShift   = 160
	resetPeriodMax   = uint8(0b111)
)

var maxAllocatorID = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 92), big.NewInt(1))

// Fields are the unpacked components of a compact id.
type Fields struct {
	IsMultichain bool
	ResetPeriod  uint8
	AllocatorID  *big.Int
	InputToken   common.Address
}

// Pack bit-packs Fields into a 256-bit compact id:
//
//	id =  (isMultichain ? 0 : 1) << 255
//	   |  (resetPeriod & 0b111)  << 252
//	   |  (allocatorId & ((1<<92)-1)) << 160
//	   |  (inputTokenAddress & ((1<<160)-1))
//
// Bit 255 carries the inverse of isMultichain.
func Pack(f Fields) (*uint256.Int, error) {
	if f.ResetPeriod > resetPeriodMax {
		return nil, fmt.Errorf("%w: reset period %d exceeds 3 bits", ErrFieldOverflow, f.ResetPeriod)
	}
	if f.AllocatorID == nil || f.AllocatorID.Sign() < 0 || f.AllocatorID.Cmp(maxAllocatorID) > 0 {
		return nil, fmt.Errorf("%w: allocator id out of 92-bit range", ErrFieldOverflow)
	}

	id := new(uint256.Int)
	if !f.IsMultichain {
		id.Or(id, new(uint256.Int).Lsh(uint256.NewInt(1), 255))
	}

	rp := new(uint256.Int).Lsh(uint256.NewInt(uint64(f.ResetPeriod)), resetPeriodShift)
	id.Or(id, rp)

	allocator, overflow := uint256.FromBig(f.AllocatorID)
	if overflow {
		return nil, fmt.Errorf("%w: allocator id does not fit in 256 bits", ErrFieldOverflow)
	}
	allocator.Lsh(allocator, allocatorShift)
	id.Or(id, allocator)

	token := new(uint256.Int).SetBytes(f.InputToken.Bytes())
	id.Or(id, token)

	return id, nil
}

// Unpack reverses Pack, recovering the exact input fields (bijection, see
// TestPackUnpackBijection).
func Unpack(id *uint256.Int) Fields {
	highBit := new(uint256.Int).Rsh(id, 255)
	isMultichain := highBit.IsZero()

	rp := new(uint256.Int).Rsh(id, resetPeriodShift)
	rp.And(rp, uint256.NewInt(uint64(resetPeriodMax)))

	allocatorMask, _ := uint256.FromBig(maxAllocatorID)
	allocator := new(uint256.Int).Rsh(id, allocatorShift)
	allocator.And(allocator, allocatorMask)

	tokenMask := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))
	token := new(uint256.Int).And(id, tokenMask)
	tokenBytes := token.Bytes20()

	return Fields{
		IsMultichain: isMultichain,
		ResetPeriod:  uint8(rp.Uint64()),
		AllocatorID:  allocator.ToBig(),
		InputToken:   common.BytesToAddress(tokenBytes[:]),
	}
}
