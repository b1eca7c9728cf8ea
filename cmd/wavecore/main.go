package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-core/ir"
	"github.com/wippyai/wasm-core/runtime"
)

func main() {
	var (
		funcName    = flag.String("func", "main", "Exported function to call")
		funcArgs    = flag.String("args", "", "i32 arguments (comma-separated)")
		list        = flag.Bool("list", false, "List the demo module's exports and exit")
		collect     = flag.Bool("gc", false, "Collect garbage after the call and print registry stats")
		verbose     = flag.Bool("v", false, "Verbose runtime logging")
		interactive = flag.Bool("i", false, "Interactive inspector")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			runtime.SetLogger(logger)
		}
	}

	if *interactive {
		if err := runInteractive(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*funcName, *funcArgs, *list, *collect); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(funcName, argsStr string, listOnly, collect bool) error {
	compartment := runtime.NewCompartment()
	defer func() {
		runtime.RemoveGCRoot(compartment)
		runtime.CollectGarbage()
	}()

	instance, err := instantiateDemo(compartment)
	if err != nil {
		return err
	}
	runtime.AddGCRoot(instance)
	defer runtime.RemoveGCRoot(instance)

	if listOnly {
		fmt.Println("Exports:")
		for _, name := range instance.ExportNames() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	fn, ok := runtime.GetInstanceExport(instance, funcName).(*runtime.FunctionInstance)
	if !ok {
		return fmt.Errorf("no exported function %q", funcName)
	}

	var args []ir.Value
	if argsStr != "" {
		for _, field := range strings.Split(argsStr, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
			if err != nil {
				return fmt.Errorf("bad argument %q: %w", field, err)
			}
			args = append(args, ir.I32Value(int32(n)))
		}
	}

	ctx, err := runtime.NewContext(compartment)
	if err != nil {
		return err
	}
	runtime.AddGCRoot(ctx)
	defer runtime.RemoveGCRoot(ctx)

	results, err := runtime.Invoke(ctx, fn, args)
	if err != nil {
		return err
	}
	for _, result := range results {
		fmt.Printf("%s(%s) = %d\n", funcName, argsStr, result.AsI32())
	}
	if len(results) == 0 {
		fmt.Printf("%s(%s) returned\n", funcName, argsStr)
	}

	if collect {
		before := runtime.LiveObjectCount()
		runtime.CollectGarbage()
		fmt.Printf("registry: %d objects before collection, %d after\n",
			before, runtime.LiveObjectCount())
	}
	return nil
}

// instantiateDemo builds and instantiates the built-in demo module: one
// memory, an add function, and a counter in a mutable global.
func instantiateDemo(compartment *runtime.Compartment) (*runtime.ModuleInstance, error) {
	m := demoModule()
	compiled, err := runtime.CompileModule(m)
	if err != nil {
		return nil, err
	}
	return runtime.InstantiateModule(compartment, compiled, runtime.ImportBindings{}, "demo")
}

func demoModule() *ir.Module {
	m := ir.NewModule()
	i32 := ir.ValueTypeI32
	m.Types = []ir.FunctionType{
		{Results: []ir.ValueType{i32}},
		{Params: []ir.ValueType{i32, i32}, Results: []ir.ValueType{i32}},
	}
	m.Memories.Defs = []ir.MemoryDef{{Type: ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 4}}}}
	m.Globals.Defs = []ir.GlobalDef{{
		Type:        ir.GlobalType{ValueType: i32, IsMutable: true},
		Initializer: ir.InitializerExpression{Op: ir.InitI32Const},
	}}
	m.Functions.Defs = []ir.FunctionDef{
		{
			// main: bump the counter and return it
			TypeIndex: 0,
			Code: []ir.Instr{
				{Op: ir.OpGlobalGet, Index: 0},
				{Op: ir.OpI32Const, I64: 1},
				{Op: ir.OpI32Add},
				{Op: ir.OpGlobalSet, Index: 0},
				{Op: ir.OpGlobalGet, Index: 0},
			},
		},
		{
			// add: i32 addition
			TypeIndex: 1,
			Code: []ir.Instr{
				{Op: ir.OpLocalGet, Index: 0},
				{Op: ir.OpLocalGet, Index: 1},
				{Op: ir.OpI32Add},
			},
		},
	}
	m.Exports = []ir.Export{
		{Name: "main", Kind: ir.ExternFunction, Index: 0},
		{Name: "add", Kind: ir.ExternFunction, Index: 1},
		{Name: "memory", Kind: ir.ExternMemory, Index: 0},
	}
	m.Names.Functions = []string{"main", "add"}
	return m
}
