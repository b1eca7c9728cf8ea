package engine

import (
	"sort"
	"sync"
)

// JITFunctionType tags what a loaded function record represents.
type JITFunctionType byte

const (
	JITFunctionTypeUnknown JITFunctionType = iota
	JITFunctionTypeWasm
	JITFunctionTypeInvokeThunk
	JITFunctionTypeIntrinsicThunk
)

// JITFunction is one loaded function: the record the loader returns per
// definition and the unit the address map resolves to. The runtime
// back-links FunctionInstance and tags Type after load.
type JITFunction struct {
	Type             JITFunctionType
	BaseAddress      uint64
	NumBytes         uint64
	FunctionInstance any
	Entry            Entry
}

// The process-wide address map. Loaded functions get disjoint fake
// address ranges so the stack-walking machinery can resolve an address
// back to its function, as it would with native code.
var addressMap = struct {
	sync.Mutex
	next      uint64
	functions []*JITFunction // sorted by BaseAddress
}{next: 0x1000}

func registerJITFunction(jf *JITFunction) {
	addressMap.Lock()
	defer addressMap.Unlock()
	size := jf.NumBytes
	if size == 0 {
		size = 1
		jf.NumBytes = 1
	}
	jf.BaseAddress = addressMap.next
	addressMap.next += size
	addressMap.functions = append(addressMap.functions, jf)
}

func unregisterJITFunction(jf *JITFunction) {
	addressMap.Lock()
	defer addressMap.Unlock()
	for i, existing := range addressMap.functions {
		if existing == jf {
			addressMap.functions = append(addressMap.functions[:i], addressMap.functions[i+1:]...)
			return
		}
	}
}

// JITFunctionByAddress resolves an address inside a loaded function's
// range back to the function, or nil. Used by the stack-walking
// exception machinery.
func JITFunctionByAddress(address uint64) *JITFunction {
	addressMap.Lock()
	defer addressMap.Unlock()
	fns := addressMap.functions
	i := sort.Search(len(fns), func(i int) bool {
		return fns[i].BaseAddress+fns[i].NumBytes > address
	})
	if i < len(fns) && fns[i].BaseAddress <= address {
		return fns[i]
	}
	return nil
}
