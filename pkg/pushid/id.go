// Package pushid generates chronologically sortable, collision-resistant ids
// for feed children. An id is 8 characters of millisecond timestamp followed
// by 12 random characters; ids generated in the same millisecond increment
// the random part so they stay strictly ordered.
package pushid

import (
	"math/rand/v2"
	"sync"
	"time"
)

// chars is in ASCII order so lexical order matches generation order.
const chars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	timeLen   = 8
	randomLen = 12
	// Length is the length of every generated id.
	Length = timeLen + randomLen
)

// Generator produces push ids. The zero value is not usable; use New.
type Generator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastTime int64
	lastRand [randomLen]int
}

// New returns a generator using the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// WithClock replaces the clock, for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

var defaultGenerator = New()

// Generate returns a new id from the package generator.
func Generate() string {
	return defaultGenerator.Next()
}

// Next returns the next id.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	if ts <= g.lastTime {
		// Same (or skewed) millisecond: bump the random suffix instead.
		ts = g.lastTime
		g.increment()
	} else {
		for i := range g.lastRand {
			g.lastRand[i] = rand.IntN(len(chars))
		}
	}
	g.lastTime = ts

	var b [Length]byte
	for i := timeLen - 1; i >= 0; i-- {
		b[i] = chars[ts%int64(len(chars))]
		ts /= int64(len(chars))
	}
	for i, r := range g.lastRand {
		b[timeLen+i] = chars[r]
	}
	return string(b[:])
}

func (g *Generator) increment() {
	for i := randomLen - 1; i >= 0; i-- {
		if g.lastRand[i] != len(chars)-1 {
			g.lastRand[i]++
			return
		}
		g.lastRand[i] = 0
	}
}
