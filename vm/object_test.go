package vm

import (
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Object creation tests
// ---------------------------------------------------------------------------

func TestNewObject(t *testing.T) {
	c := NewClass("Test", nil)
	obj := NewObject(c, 2)

	if obj.RuntimeClass() != c || obj.Class() != c {
		t.Error("object should report its class")
	}
	if obj.NumSlots() != NumInlineSlots {
		t.Errorf("NumSlots() = %d, want %d", obj.NumSlots(), NumInlineSlots)
	}
	for i := 0; i < 2; i++ {
		if !obj.GetSlot(i).IsNil() {
			t.Errorf("slot %d should be nil", i)
		}
	}
}

func TestNewObjectWithOverflow(t *testing.T) {
	obj := NewObject(NewClass("Big", nil), 10)
	if obj.NumSlots() != 10 {
		t.Errorf("NumSlots() = %d, want 10", obj.NumSlots())
	}

	obj.SetSlot(9, FromInt64(99))
	if obj.GetSlot(9).Int64() != 99 {
		t.Error("overflow slot should round-trip")
	}
}

func TestNewObjectWithSlots(t *testing.T) {
	obj := NewObjectWithSlots(NewClass("Point", nil), []Value{FromInt64(10), FromInt64(20)})

	if obj.GetSlot(0).Int64() != 10 || obj.GetSlot(1).Int64() != 20 {
		t.Error("slots should be initialized")
	}

	var visited int
	obj.ForEachSlot(func(int, Value) { visited++ })
	if visited != obj.NumSlots() {
		t.Errorf("ForEachSlot visited %d, want %d", visited, obj.NumSlots())
	}
}

func TestGetSlotPanicOnOutOfRange(t *testing.T) {
	obj := NewObject(NewClass("Test", nil), 2)

	defer func() {
		if r := recover(); r == nil {
			t.Error("GetSlot out of range should panic")
		}
	}()
	obj.GetSlot(10)
}

func TestObjectIDsUnique(t *testing.T) {
	c := NewClass("Test", nil)
	a, b := c.NewInstance(), c.NewInstance()
	if a.ID() == b.ID() {
		t.Error("objects should get distinct ids")
	}
}

func TestObjectClassNameNil(t *testing.T) {
	var obj *Object
	if obj.ClassName() != "nil" {
		t.Errorf("nil ClassName = %q", obj.ClassName())
	}
}

// ---------------------------------------------------------------------------
// Lifetime tests
// ---------------------------------------------------------------------------

func TestDisposeRunsObserversOnce(t *testing.T) {
	obj := NewClass("Test", nil).NewInstance()

	var order []int
	obj.Lifetime().OnEnded(func() { order = append(order, 1) })
	obj.Lifetime().OnEnded(func() { order = append(order, 2) })

	obj.Dispose()
	obj.Dispose()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("observers ran as %v, want [1 2]", order)
	}
	if !obj.IsDisposed() {
		t.Error("object should be disposed")
	}
	select {
	case <-obj.Lifetime().Ended():
	default:
		t.Error("Ended channel should be closed")
	}
}

func TestOnEndedAfterEndRunsImmediately(t *testing.T) {
	l := NewLifetime()
	l.end()

	ran := false
	l.OnEnded(func() { ran = true })
	if !ran {
		t.Error("late observer should run immediately")
	}
}

func TestLifetimeConcurrentEnd(t *testing.T) {
	l := NewLifetime()
	var mu sync.Mutex
	calls := 0
	l.OnEnded(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.end()
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("observer ran %d times, want 1", calls)
	}
}
