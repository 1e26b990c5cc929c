package kcell

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellBasicAccess(t *testing.T) {
	sec := &Section{}
	c := NewCell(sec, 0)

	g := c.Access()
	*g.Value() = 42
	g.Release()

	got := With(c, func(v *int) int { return *v })
	assert.Equal(t, 42, got)
}

func TestCellReentrantAccessPanics(t *testing.T) {
	sec := &Section{}
	c := NewCell(sec, 0)

	assert.Panics(t, func() {
		g := c.Access()
		defer g.Release()
		c.Access() // same cell, same goroutine: must panic
	})
}

func TestSectionNestedSameGoroutineDoesNotDeadlock(t *testing.T) {
	sec := &Section{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		tok1 := sec.Enter()
		tok2 := sec.Enter() // nested, same goroutine
		sec.Leave(tok2)
		sec.Leave(tok1)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested same-goroutine Enter deadlocked")
	}
}

func TestSectionExcludesOtherGoroutines(t *testing.T) {
	sec := &Section{}
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := sec.Enter()
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			sec.Leave(tok)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxInside)
}
