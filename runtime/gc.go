package runtime

import (
	"time"

	"go.uber.org/zap"
)

// CollectGarbage runs a stop-the-world, precise mark/sweep over the
// object registry. Objects with a non-zero root-reference count seed
// the mark; everything unreachable from them is finalized and freed.
//
// Callers must not hold a pointer to an unrooted object across this
// call. The registry mutex is held for the entire cycle, so finalizers
// must not allocate runtime objects.
func CollectGarbage() {
	registry.Lock()
	defer registry.Unlock()
	start := time.Now()

	unreferenced := make(map[Object]struct{}, len(registry.objects))
	for o := range registry.objects {
		unreferenced[o] = struct{}{}
	}

	// Seed the scan with the rooted object set.
	var pendingScan []Object
	numRoots := 0
	for o := range registry.objects {
		if o.header().numRootReferences.Load() > 0 {
			delete(unreferenced, o)
			pendingScan = append(pendingScan, o)
			numRoots++
		}
	}

	visit := func(ref Object) {
		if ref == nil {
			return
		}
		if _, ok := unreferenced[ref]; ok {
			delete(unreferenced, ref)
			pendingScan = append(pendingScan, ref)
		}
	}

	// Scan reachable objects, gathering child references by kind.
	for len(pendingScan) > 0 {
		o := pendingScan[len(pendingScan)-1]
		pendingScan = pendingScan[:len(pendingScan)-1]
		o.trace(visit)
	}

	// The survivors of the mark are garbage. Finalize them all before
	// freeing any: finalizers may inspect other dying objects (a dying
	// module instance's compartment back-edge, for example).
	for o := range unreferenced {
		o.finalize()
	}
	for o := range unreferenced {
		o.destroy()
		delete(registry.objects, o)
	}

	Logger().Debug("collected garbage",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("roots", numRoots),
		zap.Int("objects", len(registry.objects)+len(unreferenced)),
		zap.Int("garbage", len(unreferenced)))
}
