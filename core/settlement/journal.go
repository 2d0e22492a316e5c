package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"poolbase/storage"
)

var (
	etherKeyPrefix   = []byte("settle:ether:")
	balanceKeyPrefix = []byte("settle:bal:")
	seqKey           = []byte("settle:seq")
)

// EtherEntry is one recorded outbound ether transfer.
type EtherEntry struct {
	Seq    uint64
	To     common.Address
	Amount *big.Int
}

// Journal is the settlement backend for a hosted pool: it records every
// outbound ether transfer durably and keeps the token balance book the
// payout engine reads from. It stands in for on-chain transfers, so a
// recorded entry is the authoritative statement that value left the
// pool.
type Journal struct {
	mu     sync.Mutex
	db     storage.Database
	vault  common.Address
	logger *slog.Logger
	seq    uint64
}

// NewJournal opens the journal over db. vault is the address whose
// token balances answer BalanceOf queries and fund Transfer calls.
func NewJournal(db storage.Database, vault common.Address, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, vault: vault, logger: logger}
	raw, err := db.Get(seqKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return nil, fmt.Errorf("settlement: corrupt sequence record")
		}
		j.seq = binary.BigEndian.Uint64(raw)
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("settlement: read sequence: %w", err)
	}
	return j, nil
}

// SendEther records an outbound transfer. The entry is written before
// the sequence advances so a crash can duplicate a sequence number but
// never lose a recorded payment.
func (j *Journal) SendEther(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := EtherEntry{Seq: j.seq, To: to, Amount: new(big.Int).Set(amount)}
	raw, err := rlp.EncodeToBytes(&entry)
	if err != nil {
		return fmt.Errorf("settlement: encode entry: %w", err)
	}
	if err := j.db.Put(etherKey(entry.Seq), raw); err != nil {
		return fmt.Errorf("settlement: record transfer: %w", err)
	}
	next := j.seq + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := j.db.Put(seqKey, buf[:]); err != nil {
		return fmt.Errorf("settlement: advance sequence: %w", err)
	}
	j.seq = next
	j.logger.Info("ether transfer recorded", "seq", entry.Seq, "to", to.Hex(), "wei", amount.String())
	return nil
}

// Entries returns every recorded ether transfer in sequence order.
func (j *Journal) Entries() ([]EtherEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := make([]EtherEntry, 0, j.seq)
	for seq := uint64(0); seq < j.seq; seq++ {
		raw, err := j.db.Get(etherKey(seq))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("settlement: read entry %d: %w", seq, err)
		}
		var entry EtherEntry
		if err := rlp.DecodeBytes(raw, &entry); err != nil {
			return nil, fmt.Errorf("settlement: decode entry %d: %w", seq, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Credit adds tokens to a holder's balance. Inbound token deliveries
// land here before the engine is told about them.
func (j *Journal) Credit(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	balance, err := j.balanceLocked(token, holder)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return j.writeBalanceLocked(token, holder, balance)
}

// BalanceOf reports the held token balance. Only the vault address the
// journal was opened with is tracked; other holders read as zero.
func (j *Journal) BalanceOf(token, holder common.Address) (*big.Int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.balanceLocked(token, holder)
}

// Transfer moves tokens out of the vault. A short balance reports a
// refused transfer rather than an error so batch distribution can skip
// the recipient and continue.
func (j *Journal) Transfer(token, to common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return true, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	vaultBalance, err := j.balanceLocked(token, j.vault)
	if err != nil {
		return false, err
	}
	if vaultBalance.Cmp(amount) < 0 {
		return false, nil
	}
	recipientBalance, err := j.balanceLocked(token, to)
	if err != nil {
		return false, err
	}
	vaultBalance.Sub(vaultBalance, amount)
	recipientBalance.Add(recipientBalance, amount)
	if err := j.writeBalanceLocked(token, j.vault, vaultBalance); err != nil {
		return false, err
	}
	if err := j.writeBalanceLocked(token, to, recipientBalance); err != nil {
		return false, err
	}
	j.logger.Info("token transfer recorded", "token", token.Hex(), "to", to.Hex(), "amount", amount.String())
	return true, nil
}

func (j *Journal) balanceLocked(token, holder common.Address) (*big.Int, error) {
	raw, err := j.db.Get(balanceKey(token, holder))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: read balance: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}

func (j *Journal) writeBalanceLocked(token, holder common.Address, balance *big.Int) error {
	if err := j.db.Put(balanceKey(token, holder), balance.Bytes()); err != nil {
		return fmt.Errorf("settlement: write balance: %w", err)
	}
	return nil
}

func etherKey(seq uint64) []byte {
	key := make([]byte, 0, len(etherKeyPrefix)+8)
	key = append(key, etherKeyPrefix...)
	return binary.BigEndian.AppendUint64(key, seq)
}

func balanceKey(token, holder common.Address) []byte {
	key := make([]byte, 0, len(balanceKeyPrefix)+2*common.AddressLength)
	key = append(key, balanceKeyPrefix...)
	key = append(key, token.Bytes()...)
	return append(key, holder.Bytes()...)
}
