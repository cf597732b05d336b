package sim

// HookPos defines the enum of possible hooking positions
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered
type HookCtx struct {
	Domain Hookable
	Now    VTime
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable defines an object that accept Hooks
type Hookable interface {
	// AcceptHook registers a hook
	AcceptHook(hook Hook)
}

// HookPosBeforeEvent is a hook position that triggers before handling an
// event. The item is the *Event.
var HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent is a hook position that triggers after handling an event.
// The item is the *Event and the detail is the error returned by the handler.
var HookPosAfterEvent = &HookPos{Name: "AfterEvent"}

// HookPosEventDropped triggers when an event is discarded. The item is the
// *Event and the detail is the reason.
var HookPosEventDropped = &HookPos{Name: "EventDropped"}

// HookPosSafeTimeAdvanced triggers after a synchronization raised the safe
// time. The item is the new safe time.
var HookPosSafeTimeAdvanced = &HookPos{Name: "SafeTimeAdvanced"}

// HookPosStateChange triggers when a scheduler changes state. The item is the
// new state and the detail is the previous one.
var HookPosStateChange = &HookPos{Name: "StateChange"}

// HookPosCrossSend triggers when an event leaves a partition. The item is the
// *Event and the detail is the destination PartitionID.
var HookPosCrossSend = &HookPos{Name: "CrossSend"}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface.
type HookableBase struct {
	Hooks []Hook
}

// NewHookableBase creates a HookableBase object
func NewHookableBase() *HookableBase {
	h := new(HookableBase)
	h.Hooks = make([]Hook, 0)
	return h
}

// AcceptHook register a hook
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.Hooks)
}

// InvokeHook triggers the register Hooks
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
