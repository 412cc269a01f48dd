package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbe_SerialEntries(t *testing.T) {
	p := NewProbe()

	for i := 0; i < 3; i++ {
		exit := p.Enter("a")
		exit()
	}

	assert.Equal(t, 1, p.Peak("a"))
	assert.Empty(t, p.Overlapping())
}

func TestProbe_DetectsOverlap(t *testing.T) {
	p := NewProbe()

	exit1 := p.Enter("a")
	exit2 := p.Enter("a")
	exitB := p.Enter("b")
	exit1()
	exit2()
	exitB()

	assert.Equal(t, 2, p.Peak("a"))
	assert.Equal(t, 1, p.Peak("b"))
	assert.Equal(t, 3, p.PeakOverall())
	assert.Equal(t, []string{"a"}, p.Overlapping())
}

func TestProbe_RecordsInOrder(t *testing.T) {
	p := NewProbe()
	p.Record("sink", "1")
	p.Record("sink", "2")
	p.Record("other", "x")

	assert.Equal(t, []string{"1", "2"}, p.Records("sink"))
	assert.Nil(t, p.Records("missing"))
}

func TestProbe_ThreadSafe(t *testing.T) {
	p := NewProbe()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exit := p.Enter("shared")
			p.Record("shared", "x")
			exit()
		}()
	}
	wg.Wait()

	assert.Len(t, p.Records("shared"), 50)
	assert.GreaterOrEqual(t, p.Peak("shared"), 1)
}

func TestFixedRunIDGenerator(t *testing.T) {
	g := NewFixedRunIDGenerator("run-golden")
	assert.Equal(t, "run-golden", g.Generate())
	assert.Equal(t, "run-golden", g.Generate())

	assert.Equal(t, "test-run-default", NewFixedRunIDGenerator("").Generate())
}
