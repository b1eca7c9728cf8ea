package runtime

import (
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// Context is an execution-local state bundle: a compartment-scoped id
// and a runtime-data block that starts with the compartment's data and
// carries this context's copy of the mutable-globals area.
type Context struct {
	gcHeader
	compartment *Compartment
	id          uint32
	runtimeData *engine.ContextRuntimeData
}

// NewContext creates a context whose mutable-global area is copied from
// the compartment's template.
func NewContext(c *Compartment) (*Context, error) {
	ctx := &Context{compartment: c, id: engine.InvalidID}
	registerObject(ctx, KindContext)

	c.mu.Lock()
	id, ok := c.contexts.alloc(ctx)
	if ok {
		ctx.id = id
		mutableGlobals := make([]ir.UntaggedValue, MaxMutableGlobals)
		copy(mutableGlobals, c.initialContextMutableGlobals[:])
		ctx.runtimeData = &engine.ContextRuntimeData{
			Compartment:    c.runtimeData,
			MutableGlobals: mutableGlobals,
		}
	}
	c.mu.Unlock()
	if !ok {
		unregisterObject(ctx)
		return nil, errors.ResourceIDExhausted("context")
	}
	return ctx, nil
}

// ID returns the compartment-scoped context id.
func (ctx *Context) ID() uint32 { return ctx.id }

// Compartment returns the owning compartment.
func (ctx *Context) Compartment() *Compartment { return ctx.compartment }

// RuntimeData returns the context's runtime-data block.
func (ctx *Context) RuntimeData() *engine.ContextRuntimeData { return ctx.runtimeData }

func (ctx *Context) trace(visit func(Object)) {
	visit(ctx.compartment)
}

// finalize clears the compartment's weak reference.
func (ctx *Context) finalize() {
	ctx.compartment.mu.Lock()
	ctx.compartment.contexts.remove(ctx.id)
	ctx.compartment.mu.Unlock()
}
