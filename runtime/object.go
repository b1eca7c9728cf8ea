package runtime

import "sync/atomic"

// ObjectKind tags the concrete type of a runtime object. The set is
// closed; the collector dispatches traversal on it.
type ObjectKind byte

const (
	KindFunction ObjectKind = iota
	KindTable
	KindMemory
	KindGlobal
	KindExceptionType
	KindModule
	KindModuleInstance
	KindContext
	KindCompartment
)

func (k ObjectKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindExceptionType:
		return "exceptionType"
	case KindModule:
		return "module"
	case KindModuleInstance:
		return "moduleInstance"
	case KindContext:
		return "context"
	case KindCompartment:
		return "compartment"
	default:
		return "<invalid object kind>"
	}
}

// Object is the common root of every runtime object. Concrete types
// embed gcHeader and override trace/finalize/destroy as their kind
// requires.
type Object interface {
	Kind() ObjectKind
	header() *gcHeader

	// trace visits the object's outgoing strong references.
	trace(visit func(Object))

	// finalize runs on every garbage object before any of them is
	// freed; it clears weak back-references (compartment id slots,
	// mutable-global bits). Finalizers must not touch the registry.
	finalize()

	// destroy releases non-GC resources (address space, loaded code)
	// after all finalizers have run.
	destroy()
}

// gcHeader carries the kind tag and the root-reference counter. A
// non-zero counter marks the object as a collection root.
type gcHeader struct {
	kind              ObjectKind
	numRootReferences atomic.Uint64
}

func (h *gcHeader) Kind() ObjectKind   { return h.kind }
func (h *gcHeader) header() *gcHeader  { return h }
func (h *gcHeader) trace(func(Object)) {}
func (h *gcHeader) finalize()          {}
func (h *gcHeader) destroy()           {}

// AddGCRoot pins an object against collection. Safe to call from any
// goroutine that already holds a rooted path to the object.
func AddGCRoot(o Object) {
	o.header().numRootReferences.Add(1)
}

// RemoveGCRoot drops a pin added by AddGCRoot.
func RemoveGCRoot(o Object) {
	o.header().numRootReferences.Add(^uint64(0))
}

// RootReferenceCount returns the current pin count.
func RootReferenceCount(o Object) uint64 {
	return o.header().numRootReferences.Load()
}
