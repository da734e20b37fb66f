// Package uid produces compact, time-ordered 64-bit identifiers.
//
// An ID packs the milliseconds elapsed since Epoch into the high bits and a
// 12-bit per-millisecond sequence into the low bits:
//
//	[ timestamp (ms since Epoch) | sequence (12 bit) ]
//
// Ordering IDs by their integer value therefore orders them by timestamp
// first and sequence second. Users and messages draw from the same Generator.
package uid

import (
	"strconv"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch, in Unix milliseconds, that timestamps are
	// measured from.
	Epoch int64 = 0x64b62a60

	sequenceBits = 12

	// MaxSequence is the largest sequence value an ID can carry.
	MaxSequence = 1<<sequenceBits - 1
)

// ID is a 64-bit identifier. The zero value is never produced by a
// Generator running on a sane clock.
type ID int64

// Compose builds an ID from a relative timestamp and a sequence number.
// Sequence bits above MaxSequence are discarded.
func Compose(timestamp int64, sequence uint16) ID {
	return ID(timestamp<<sequenceBits | int64(sequence)&MaxSequence)
}

// Decompose splits the ID back into its relative timestamp and sequence.
func (id ID) Decompose() (timestamp int64, sequence uint16) {
	return id.Timestamp(), id.Sequence()
}

// Timestamp returns the milliseconds since Epoch encoded in the ID.
func (id ID) Timestamp() int64 {
	return int64(id) >> sequenceBits
}

// Sequence returns the per-millisecond counter encoded in the ID.
func (id ID) Sequence() uint16 {
	return uint16(int64(id) & MaxSequence)
}

// Time converts the encoded timestamp back to wall-clock time.
func (id ID) Time() time.Time {
	return time.UnixMilli(id.Timestamp() + Epoch)
}

// Int64 returns the raw integer value, which is what goes on the wire.
func (id ID) Int64() int64 {
	return int64(id)
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Generator hands out IDs. It is safe for concurrent use.
//
// Within one millisecond at most MaxSequence+1 distinct IDs exist; the
// sequence wraps beyond that and may repeat an earlier value. This is
// accepted at chat scale.
type Generator struct {
	mu       sync.Mutex
	now      func() time.Time
	last     int64
	sequence int64
}

// NewGenerator returns a Generator reading the system clock.
func NewGenerator() *Generator {
	return newGeneratorWithClock(time.Now)
}

func newGeneratorWithClock(now func() time.Time) *Generator {
	return &Generator{now: now, last: -1}
}

// Generate returns the next ID.
func (g *Generator) Generate() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.now().UnixMilli() - Epoch
	if timestamp == g.last {
		g.sequence = (g.sequence + 1) & MaxSequence
	} else {
		g.sequence = 0
	}
	g.last = timestamp

	return ID(timestamp<<sequenceBits | g.sequence)
}
