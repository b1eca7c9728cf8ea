package runtime

import (
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// GlobalInstance is one global variable. Immutable globals are read
// directly from the stored initial value. Mutable globals are
// per-context: the instance owns a slot in the compartment's
// mutable-global area, and each context carries its own copy of that
// area, so reads and writes by guest code indirect through the current
// context's runtime data.
type GlobalInstance struct {
	gcHeader
	compartment     *Compartment
	typ             ir.GlobalType
	mutableGlobalID uint32
	initialValue    ir.UntaggedValue
}

// CreateGlobal allocates a global. For a mutable global it claims a
// slot in the compartment's allocation mask and seeds the template that
// new contexts copy; creation fails with too-many-mutable-globals when
// the mask is full.
func CreateGlobal(c *Compartment, typ ir.GlobalType, initialValue ir.Value) (*GlobalInstance, error) {
	g := &GlobalInstance{
		compartment:  c,
		typ:          typ,
		initialValue: initialValue.UntaggedValue,
	}
	registerObject(g, KindGlobal)

	c.mu.Lock()
	if typ.IsMutable {
		slot, ok := c.allocMutableGlobalSlot()
		if !ok {
			c.mu.Unlock()
			unregisterObject(g)
			return nil, errors.TooManyMutableGlobals()
		}
		g.mutableGlobalID = slot
		c.initialContextMutableGlobals[slot] = initialValue.UntaggedValue
	}
	c.globals[g] = struct{}{}
	c.mu.Unlock()
	return g, nil
}

// cloneGlobal recreates a snapshotted global in a new compartment,
// preserving its mutable slot index. The clone's allocation mask and
// template were copied wholesale beforehand.
func cloneGlobal(c *Compartment, snap globalSnapshot) *GlobalInstance {
	g := &GlobalInstance{
		compartment:     c,
		typ:             snap.typ,
		mutableGlobalID: snap.mutableGlobalID,
		initialValue:    snap.initialValue,
	}
	registerObject(g, KindGlobal)
	c.mu.Lock()
	c.globals[g] = struct{}{}
	c.mu.Unlock()
	return g
}

// Type returns the global's declared type.
func (g *GlobalInstance) Type() ir.GlobalType { return g.typ }

// MutableGlobalID returns the slot index of a mutable global.
func (g *GlobalInstance) MutableGlobalID() uint32 { return g.mutableGlobalID }

// InitialValue returns the value the global was created with.
func (g *GlobalInstance) InitialValue() ir.Value {
	return ir.Value{Type: g.typ.ValueType, UntaggedValue: g.initialValue}
}

// GetGlobalValue reads a global. Mutable globals read the calling
// context's slot copy; immutable globals read the stored initial value.
func GetGlobalValue(ctx *Context, g *GlobalInstance) ir.Value {
	if g.typ.IsMutable && ctx != nil {
		return ir.Value{Type: g.typ.ValueType, UntaggedValue: ctx.runtimeData.MutableGlobals[g.mutableGlobalID]}
	}
	return g.InitialValue()
}

// SetGlobalValue writes a mutable global in the calling context's slot
// copy. Writing an immutable global is an error.
func SetGlobalValue(ctx *Context, g *GlobalInstance, value ir.Value) error {
	if !g.typ.IsMutable {
		return errors.InvalidArgument(errors.PhaseRuntime, "global is immutable")
	}
	if value.Type != g.typ.ValueType {
		return errors.InvalidArgument(errors.PhaseRuntime,
			"expected %s, got %s", g.typ.ValueType, value.Type)
	}
	ctx.runtimeData.MutableGlobals[g.mutableGlobalID] = value.UntaggedValue
	return nil
}

func (g *GlobalInstance) trace(visit func(Object)) {
	visit(g.compartment)
}

// finalize releases the mutable slot and the compartment's weak
// reference.
func (g *GlobalInstance) finalize() {
	g.compartment.mu.Lock()
	if g.typ.IsMutable {
		g.compartment.releaseMutableGlobalSlot(g.mutableGlobalID)
	}
	delete(g.compartment.globals, g)
	g.compartment.mu.Unlock()
}
