// Package pow provides the proof-of-work primitives behind the simulated
// hashing workers: synthetic block headers, double-SHA256 header hashing,
// difficulty to target conversion and target comparison.
// Nothing here touches a real network.
package pow

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderBits is the compact difficulty written into synthetic headers
const HeaderBits uint32 = 0x1d00ffff

var (
	// maxTargetBytes is the difficulty 1 target, 0x00000000FFFF0000...
	maxTargetBytes = []byte{
		0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	// Header serialization buffers; every worker hashes in a tight loop
	bufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, wire.MaxBlockHeaderPayload))
		},
	}
)

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	bufferPool.Put(buf)
}

// RandomHash draws a hash from r
func RandomHash(r *rand.Rand) chainhash.Hash {
	var h chainhash.Hash
	for i := 0; i < chainhash.HashSize; i += 8 {
		binary.LittleEndian.PutUint64(h[i:], r.Uint64())
	}
	return h
}

// NewHeader builds a synthetic block header on a random parent with a
// merkle root over txCount random transaction hashes
func NewHeader(r *rand.Rand, now time.Time, txCount int) wire.BlockHeader {
	txHashes := make([]chainhash.Hash, max(txCount, 1))
	for i := range txHashes {
		txHashes[i] = RandomHash(r)
	}

	prev := RandomHash(r)
	root := CalculateMerkleRoot(txHashes)
	header := wire.NewBlockHeader(0x20000000, &prev, &root, HeaderBits, r.Uint32())
	header.Timestamp = time.Unix(now.Unix(), 0)
	return *header
}

// HashHeader serializes header and returns its double-SHA256 hash
func HashHeader(header *wire.BlockHeader) (chainhash.Hash, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := header.Serialize(buf); err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(buf.Bytes()), nil
}

// CalculateMerkleRoot computes the merkle root of txHashes. An odd level
// duplicates its last hash.
func CalculateMerkleRoot(txHashes []chainhash.Hash) chainhash.Hash {
	if len(txHashes) == 0 {
		return chainhash.Hash{}
	}

	level := append([]chainhash.Hash(nil), txHashes...)
	var pair [2 * chainhash.HashSize]byte
	for len(level) > 1 {
		next := make([]chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			copy(pair[:chainhash.HashSize], left[:])
			copy(pair[chainhash.HashSize:], right[:])
			next = append(next, chainhash.DoubleHashH(pair[:]))
		}
		level = next
	}
	return level[0]
}

// DifficultyToTarget converts a difficulty to a 32-byte big-endian target.
// Difficulties below 1 give easier targets; anything past 2^256-1 is
// clamped. An infinite difficulty gives the zero target; a non-positive
// or NaN one returns the difficulty 1 target.
func DifficultyToTarget(difficulty float64) []byte {
	if math.IsInf(difficulty, 1) {
		return make([]byte, 32)
	}
	if difficulty <= 0 || math.IsNaN(difficulty) {
		return append([]byte(nil), maxTargetBytes...)
	}

	maxTarget := new(big.Float).SetInt(new(big.Int).SetBytes(maxTargetBytes))
	targetFloat := new(big.Float).Quo(maxTarget, big.NewFloat(difficulty))

	target, _ := targetFloat.Int(nil)
	targetBytes := target.Bytes()
	result := make([]byte, 32)

	if len(targetBytes) > 32 {
		for i := range result {
			result[i] = 0xff
		}
		return result
	}
	copy(result[32-len(targetBytes):], targetBytes)
	return result
}

// DifficultyForProbability returns the difficulty at which one hash meets
// the target with probability p
func DifficultyForProbability(p float64) float64 {
	if p <= 0 {
		return math.Inf(1)
	}
	return 1 / (p * math.Pow(2, 32))
}

// HashMeetsTarget reports whether hash, read as a little-endian number, is
// at or below the big-endian target
func HashMeetsTarget(hash chainhash.Hash, target []byte) bool {
	for i := range 32 {
		b := hash[31-i]
		if b < target[i] {
			return true
		}
		if b > target[i] {
			return false
		}
	}
	return true
}

// TargetHex renders a target the way Stratum mining.set_target sends it
func TargetHex(target []byte) string {
	return hex.EncodeToString(target)
}
