package pool

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveAddress produces a deterministic vault address for a pool from
// its creator and a creator-scoped nonce.
func DeriveAddress(creator common.Address, nonce uint64) common.Address {
	buf := make([]byte, 0, common.AddressLength+8)
	buf = append(buf, creator[:]...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}
