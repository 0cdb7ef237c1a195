// Package chaos corrupts valid inputs for robustness tests.
//
// The daemon decodes data it does not control: control-plane messages,
// precache manifests, namespace names read back from shared stores, and
// request URLs. The Corruptor produces deterministic corrupted variants of
// valid examples so tests can assert that every decoder fails cleanly
// instead of panicking.
package chaos

import (
	"bytes"
	"math/rand"
	"unicode/utf8"
)

// Corruptor derives corrupted inputs from valid ones. It is not safe for
// concurrent use; give each test its own instance.
type Corruptor struct {
	rng *rand.Rand
}

// NewCorruptor creates a Corruptor seeded for reproducible corpora.
func NewCorruptor(seed int64) *Corruptor {
	return &Corruptor{rng: rand.New(rand.NewSource(seed))}
}

// mutations are the corruption shapes Corrupt draws from. A mutation never
// modifies its argument; each returns a fresh slice.
var mutations = []func(*Corruptor, []byte) []byte{
	(*Corruptor).bitFlip,
	(*Corruptor).byteDelete,
	(*Corruptor).byteInsert,
	(*Corruptor).byteReplace,
	(*Corruptor).delimiterDrop,
	(*Corruptor).utf8Corrupt,
	(*Corruptor).truncate,
}

// Corrupt applies one randomly chosen mutation and returns the result.
// Empty input yields random garbage bytes.
func (c *Corruptor) Corrupt(input []byte) []byte {
	if len(input) == 0 {
		return c.randomBytes(1 + c.rng.Intn(10))
	}
	m := mutations[c.rng.Intn(len(mutations))]
	return m(c, input)
}

// CorruptN applies n mutations in sequence.
func (c *Corruptor) CorruptN(input []byte, n int) []byte {
	result := append([]byte(nil), input...)
	for i := 0; i < n; i++ {
		result = c.Corrupt(result)
	}
	return result
}

// GenerateCorpus returns count corrupted variants of valid, with the
// number of stacked mutations varying from one to five per variant.
func (c *Corruptor) GenerateCorpus(valid []byte, count int) [][]byte {
	corpus := make([][]byte, count)
	for i := range corpus {
		corpus[i] = c.CorruptN(valid, 1+c.rng.Intn(5))
	}
	return corpus
}

// bitFlip inverts one to five random bits.
func (c *Corruptor) bitFlip(input []byte) []byte {
	result := append([]byte(nil), input...)
	n := 1 + c.rng.Intn(5)
	for i := 0; i < n; i++ {
		result[c.rng.Intn(len(result))] ^= 1 << c.rng.Intn(8)
	}
	return result
}

// byteDelete drops one random byte.
func (c *Corruptor) byteDelete(input []byte) []byte {
	if len(input) <= 1 {
		return append([]byte(nil), input...)
	}
	idx := c.rng.Intn(len(input))
	result := make([]byte, 0, len(input)-1)
	result = append(result, input[:idx]...)
	return append(result, input[idx+1:]...)
}

// byteInsert splices one random byte into a random position.
func (c *Corruptor) byteInsert(input []byte) []byte {
	idx := c.rng.Intn(len(input) + 1)
	result := make([]byte, 0, len(input)+1)
	result = append(result, input[:idx]...)
	result = append(result, byte(c.rng.Intn(256)))
	return append(result, input[idx:]...)
}

// byteReplace overwrites one random byte.
func (c *Corruptor) byteReplace(input []byte) []byte {
	result := append([]byte(nil), input...)
	result[c.rng.Intn(len(result))] = byte(c.rng.Intn(256))
	return result
}

// delimiters are the structural bytes the daemon's input grammars hang on:
// JSON braces and quotes, YAML list markers, namespace and path separators.
var delimiters = []byte("{}[]\":,-/\n")

// delimiterDrop removes one structural character, falling back to a plain
// delete when the input has none.
func (c *Corruptor) delimiterDrop(input []byte) []byte {
	positions := make([]int, 0, len(input))
	for i, b := range input {
		if bytes.IndexByte(delimiters, b) >= 0 {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		return c.byteDelete(input)
	}
	idx := positions[c.rng.Intn(len(positions))]
	result := make([]byte, 0, len(input)-1)
	result = append(result, input[:idx]...)
	return append(result, input[idx+1:]...)
}

// utf8Corrupt scribbles inside multi-byte sequences and occasionally plants
// an orphan multi-byte start marker in otherwise valid text.
func (c *Corruptor) utf8Corrupt(input []byte) []byte {
	result := append([]byte(nil), input...)
	for i := 0; i < len(result); {
		_, size := utf8.DecodeRune(result[i:])
		if size == 0 {
			break
		}
		if size > 1 && c.rng.Float64() < 0.5 {
			result[i+c.rng.Intn(size)] = byte(c.rng.Intn(256))
		}
		i += size
	}
	if c.rng.Float64() < 0.3 {
		result[c.rng.Intn(len(result))] = 0xC0 | byte(c.rng.Intn(0x20))
	}
	return result
}

// truncate cuts the input at a random interior position.
func (c *Corruptor) truncate(input []byte) []byte {
	if len(input) <= 1 {
		return append([]byte(nil), input...)
	}
	pos := 1 + c.rng.Intn(len(input)-1)
	return append([]byte(nil), input[:pos]...)
}

func (c *Corruptor) randomBytes(n int) []byte {
	buf := make([]byte, n)
	c.rng.Read(buf)
	return buf
}
