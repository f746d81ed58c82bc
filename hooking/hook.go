// Package hooking lets observers attach to the scheduler and see every event
// firing without the scheduler knowing who is listening.
package hooking

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// HookPos names a point where hooks are invoked.
type HookPos struct {
	Name string
}

// HookCtx describes the site a hook is invoked from.
type HookCtx struct {
	// Domain is the hookable object that is raising this hook.
	Domain Hookable

	// Pos identifies the lifecycle stage the hook is firing from.
	Pos *HookPos

	// Item carries the primary subject associated with the hook.
	Item any

	// Detail holds optional auxiliary data; hook sites may leave it nil.
	Detail any
}

// Hookable is implemented by anything that raises hooks.
type Hookable interface {
	AcceptHook(hook Hook)
	NumHooks() int
	Hooks() []Hook
	InvokeHook(ctx HookCtx)
}

// Hook is invoked by a Hookable at each hook site.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase implements Hookable for embedding.
//
// Hooks may be attached while a session runs, since monitors and recorders
// are often added to a live timeline. Hooks are never removed. Invoking
// reads a snapshot of the list without locking.
type HookableBase struct {
	lock  sync.Mutex
	hooks atomic.Pointer[[]Hook]
}

// NewHookableBase creates a HookableBase with no hooks.
func NewHookableBase() *HookableBase {
	h := new(HookableBase)
	h.hooks.Store(&[]Hook{})

	return h
}

func (h *HookableBase) snapshot() []Hook {
	if p := h.hooks.Load(); p != nil {
		return *p
	}

	return nil
}

// NumHooks returns the number of hooks attached.
func (h *HookableBase) NumHooks() int {
	return len(h.snapshot())
}

// Hooks returns a copy of the attached hooks.
func (h *HookableBase) Hooks() []Hook {
	return append([]Hook(nil), h.snapshot()...)
}

// AcceptHook attaches a hook. Attaching the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	if hook == nil {
		panic("nil hook")
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	old := h.snapshot()
	if reflect.TypeOf(hook).Comparable() {
		for _, existing := range old {
			if existing == hook {
				panic("duplicated hook")
			}
		}
	}

	next := make([]Hook, len(old), len(old)+1)
	copy(next, old)
	next = append(next, hook)
	h.hooks.Store(&next)
}

// InvokeHook calls every attached hook in attach order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.snapshot() {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)
