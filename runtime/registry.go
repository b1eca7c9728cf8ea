package runtime

import "sync"

// The process-wide registry of every live runtime object. Registration
// happens inside every factory before the object is published to other
// goroutines; removal happens during collection and on factory failure
// paths (unregisterObject).
var registry = struct {
	sync.Mutex
	objects map[Object]struct{}
}{objects: map[Object]struct{}{}}

// registerObject makes o visible to the collector. Must precede any
// publication of o.
func registerObject(o Object, kind ObjectKind) {
	o.header().kind = kind
	registry.Lock()
	registry.objects[o] = struct{}{}
	registry.Unlock()
}

// unregisterObject removes an object outside a collection cycle. Only
// factory failure paths use it, before the object was ever published.
func unregisterObject(o Object) {
	registry.Lock()
	delete(registry.objects, o)
	registry.Unlock()
}

// LiveObjectCount returns the number of registered objects.
func LiveObjectCount() int {
	registry.Lock()
	defer registry.Unlock()
	return len(registry.objects)
}

// LiveObjects returns a snapshot of every registered object, in no
// particular order.
func LiveObjects() []Object {
	registry.Lock()
	defer registry.Unlock()
	objects := make([]Object, 0, len(registry.objects))
	for o := range registry.objects {
		objects = append(objects, o)
	}
	return objects
}
