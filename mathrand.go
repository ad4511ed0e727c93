package simdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/glycerine/blake3"
)

// PRNG is the single deterministic pseudo random number
// generator behind every stochastic choice in the simulator.
// It draws from a keyed blake3 XOF stream, so it has a 32 byte
// seed. Two PRNG with the same seed produce the same stream.
// It is goroutine safe.
type PRNG struct {
	mut        sync.Mutex
	seed       [32]byte
	hasher     *blake3.Hasher
	readOffset int64
}

func NewPRNG(seed [32]byte) *PRNG {
	return &PRNG{
		seed:   seed,
		hasher: blake3.New(64, seed[:]),
	}
}

// NewPRNGFromUint64 spreads a small seed over the 32 bytes.
func NewPRNGFromUint64(seed uint64) *PRNG {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:8], seed)
	binary.LittleEndian.PutUint64(s[8:16], seed)
	binary.LittleEndian.PutUint64(s[16:24], seed)
	binary.LittleEndian.PutUint64(s[24:], seed)
	return NewPRNG(s)
}

func (rng *PRNG) Reseed(seed [32]byte) {
	rng.mut.Lock()
	defer rng.mut.Unlock()

	rng.seed = seed
	rng.hasher = blake3.New(64, seed[:])
	rng.readOffset = 0
}

// readXOF reads pseudo random bytes from the keyed XOF stream.
func (rng *PRNG) readXOF(p []byte) {
	r := rng.hasher.XOF()
	r.Seek(rng.readOffset, io.SeekStart)
	rng.readOffset += int64(len(p))
	n, err := r.Read(p)
	panicOn(err)
	if n != len(p) {
		panic("short read???")
	}
}

func (rng *PRNG) Read(p []byte) (n int, err error) {
	rng.mut.Lock()
	defer rng.mut.Unlock()

	rng.readXOF(p)
	return len(p), nil
}

// Uint64 satisfies the math/rand/v2 Source interface.
func (rng *PRNG) Uint64() uint64 {
	rng.mut.Lock()
	defer rng.mut.Unlock()

	var b [8]byte
	rng.readXOF(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// Float64 returns a uniform draw from [0, 1).
func (rng *PRNG) Float64() float64 {
	return float64(rng.Uint64()>>11) / (1 << 53)
}

func (rng *PRNG) Bool() bool {
	rng.mut.Lock()
	var b [1]byte
	rng.readXOF(b[:])
	rng.mut.Unlock()
	return b[0]%2 == 0
}

// returns r >= 0
func (rng *PRNG) NonNegInt64() (r int64) {
	rng.mut.Lock()
	defer rng.mut.Unlock()
	return rng.nonNegInt64()
}

func (rng *PRNG) nonNegInt64() (r int64) {
	var b [8]byte
	rng.readXOF(b[:])
	r = int64(binary.LittleEndian.Uint64(b[:]))
	if r < 0 {
		if r == math.MinInt64 {
			return 0
		}
		r = -r
	}
	return r
}

// nonNegInt64Range returns r in [0, nChoices), avoiding the
// inherent bias in naive modulo. We use rejection sampling:
// redraw when the sample lands in the small window at the top
// of the int64 range that does not divide evenly by nChoices.
func (rng *PRNG) nonNegInt64Range(nChoices int64) (r int64) {
	if nChoices <= 0 {
		panic(fmt.Sprintf("nChoices must be positive; we see %v", nChoices))
	}
	if nChoices == 1 {
		return 0
	}
	if nChoices == math.MaxInt64 {
		return rng.nonNegInt64()
	}
	redrawAbove := int64(math.MaxInt64) - (((math.MaxInt64 % nChoices) + 1) % nChoices)
	// INVAR: redrawAbove % nChoices == (nChoices - 1).
	for {
		r = rng.nonNegInt64()
		if r > redrawAbove {
			continue
		}
		return r % nChoices
	}
}

// Int63Range returns r in [lo, hi).
func (rng *PRNG) Int63Range(lo, hi int64) (r int64) {
	if hi <= lo {
		panic(fmt.Sprintf("Int63Range needs lo(%v) < hi(%v)", lo, hi))
	}
	rng.mut.Lock()
	defer rng.mut.Unlock()
	return lo + rng.nonNegInt64Range(hi-lo)
}

// IntRange returns r in [lo, hi).
func (rng *PRNG) IntRange(lo, hi int) (r int) {
	return int(rng.Int63Range(int64(lo), int64(hi)))
}

// UniqueID returns a short, url safe, deterministic
// pseudo-random identifier.
func (rng *PRNG) UniqueID() (id string) {
	rng.mut.Lock()
	defer rng.mut.Unlock()

	var pseudo [15]byte // 16 and 17 get == signs. yuck.
	rng.readXOF(pseudo[:])
	return cristalbase64.URLEncoding.EncodeToString(pseudo[:])
}
