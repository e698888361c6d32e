package fanout

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAll_EmptyBatchInline(t *testing.T) {
	c := New(func(func()) { t.Fatal("empty batch must not be delivered asynchronously") })

	fired := 0
	c.RunAll(nil, func() { fired++ })
	assert.Equal(t, 1, fired)
}

func TestRunAll_SynchronousMembers(t *testing.T) {
	c := New(nil)

	fired := 0
	ops := []Operation{
		func(done func()) { done() },
		func(done func()) { done() },
	}
	c.RunAll(ops, func() { fired++ })
	assert.Equal(t, 1, fired)
}

func TestRunAll_DoubleDoneCountsOnce(t *testing.T) {
	c := New(nil)

	var second func()
	fired := 0
	ops := []Operation{
		func(done func()) { done(); done() },
		func(done func()) { second = done },
	}
	c.RunAll(ops, func() { fired++ })
	assert.Equal(t, 0, fired, "the repeated done must not complete the group")

	second()
	second()
	assert.Equal(t, 1, fired)
}

// Permute the order in which members complete; onAllDone must run exactly
// once and only after every member.
func TestRunAll_AnyCompletionOrder(t *testing.T) {
	const n = 8
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 200; round++ {
		var delivered atomic.Int32
		deliver := func(fn func()) {
			delivered.Add(1)
			go fn()
		}
		c := New(deliver)

		dones := make([]func(), n)
		var completed atomic.Int32
		ops := make([]Operation, n)
		for i := range ops {
			i := i
			ops[i] = func(done func()) { dones[i] = done }
		}

		var fired atomic.Int32
		finished := make(chan int32, 1)
		c.RunAll(ops, func() {
			fired.Add(1)
			finished <- completed.Load()
		})

		var wg sync.WaitGroup
		for _, i := range rng.Perm(n) {
			wg.Add(1)
			go func(done func()) {
				defer wg.Done()
				completed.Add(1)
				done()
			}(dones[i])
		}
		wg.Wait()

		select {
		case seen := <-finished:
			require.EqualValues(t, n, seen, "onAllDone ran before every member completed")
		case <-time.After(time.Second):
			t.Fatal("onAllDone never ran")
		}
		time.Sleep(time.Millisecond)
		require.EqualValues(t, 1, fired.Load())
		require.EqualValues(t, 1, delivered.Load())
	}
}

func TestRunAll_FailedMembersStillCount(t *testing.T) {
	c := New(nil)

	var attempts int
	fired := false
	ops := []Operation{
		func(done func()) { attempts++; done() },
		func(done func()) { attempts++; done() }, // failed, still reports
		func(done func()) { attempts++; go func() { time.Sleep(5 * time.Millisecond); done() }() },
	}
	ch := make(chan struct{})
	c.RunAll(ops, func() { fired = true; close(ch) })

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("batch never completed")
	}
	assert.True(t, fired)
	assert.Equal(t, 3, attempts)
}
