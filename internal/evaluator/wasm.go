package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"
)

var (
	// ErrFuelExhausted is returned when a policy module burns its fuel budget.
	ErrFuelExhausted = errors.New("fuel exhausted")

	// ErrBadVerdict is returned when evaluate returns neither 0 nor 1.
	ErrBadVerdict = errors.New("policy returned an invalid verdict")
)

// defaultFuel is the fuel budget of one evaluation.
const defaultFuel = 1_000_000

// execKey carries the per-call state to host functions.
type execKey struct{}

// execContext holds the state of a single policy invocation.
type execContext struct {
	input     []byte // input is the content under evaluation
	fuelLimit uint64 // fuelLimit is the budget of this call
	fuelUsed  uint64 // fuelUsed tracks consumed fuel
	exhausted bool   // exhausted is set when the budget was exceeded
}

// WASM evaluates content with a compiled policy module.
//
// The module exports evaluate() -> i32 returning 1 to approve and 0 to
// reject, and may import from "env":
//
//	input_len() -> i32        length of the content
//	read_input(ptr i32)       copies the content to linear memory at ptr
//	fuel(cost i32)            charges cost against the fuel budget
type WASM struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	id       [32]byte // id is the blake3 hash of the module bytes
	fuel     uint64
}

// NewWASM compiles a policy module. fuel of 0 selects the default budget.
func NewWASM(ctx context.Context, module []byte, fuel uint64) (*WASM, error) {
	if fuel == 0 {
		fuel = defaultFuel
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))

	if err := buildHostModule(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("build host module:\n%w", err)
	}

	compiled, err := runtime.CompileModule(ctx, module)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile policy:\n%w", err)
	}

	if _, ok := compiled.ExportedFunctions()["evaluate"]; !ok {
		runtime.Close(ctx)
		return nil, errors.New("policy does not export evaluate")
	}

	return &WASM{
		runtime:  runtime,
		compiled: compiled,
		id:       blake3.Sum256(module),
		fuel:     fuel,
	}, nil
}

// ID returns the policy hash.
func (w *WASM) ID() [32]byte {
	return w.id
}

// Evaluate instantiates the policy and calls evaluate. Each call gets its own
// instance, so calls may run concurrently.
func (w *WASM) Evaluate(ctx context.Context, content []byte) (bool, error) {
	exec := &execContext{input: content, fuelLimit: w.fuel}
	ctx = context.WithValue(ctx, execKey{}, exec)

	instance, err := w.runtime.InstantiateModule(ctx, w.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return false, fmt.Errorf("instantiate policy:\n%w", err)
	}
	defer instance.Close(context.Background())

	results, err := instance.ExportedFunction("evaluate").Call(ctx)
	if err != nil {
		if exec.exhausted {
			return false, ErrFuelExhausted
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("evaluate:\n%w", err)
	}

	if len(results) != 1 {
		return false, ErrBadVerdict
	}

	switch api.DecodeI32(results[0]) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrBadVerdict, api.DecodeI32(results[0]))
	}
}

// Close releases the runtime.
func (w *WASM) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// buildHostModule registers the "env" module once per runtime. Host
// functions find the current call through the context.
func buildHostModule(ctx context.Context, runtime wazero.Runtime) error {
	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, cost uint32) {
			hostFuel(execFrom(ctx), cost)
		}).
		Export("fuel").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context) uint32 {
			return uint32(len(execFrom(ctx).input))
		}).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr uint32) {
			hostReadInput(execFrom(ctx), m.Memory(), ptr)
		}).
		Export("read_input").
		Instantiate(ctx)

	return err
}

func execFrom(ctx context.Context) *execContext {
	if exec, ok := ctx.Value(execKey{}).(*execContext); ok {
		return exec
	}

	return &execContext{}
}

// hostFuel charges fuel and aborts the call once the budget is exceeded.
func hostFuel(exec *execContext, cost uint32) {
	exec.fuelUsed += uint64(cost)

	if exec.fuelUsed > exec.fuelLimit {
		exec.exhausted = true
		panic(ErrFuelExhausted)
	}
}

// hostReadInput copies the content into the caller's memory at ptr.
func hostReadInput(exec *execContext, memory api.Memory, ptr uint32) {
	if memory == nil || len(exec.input) == 0 {
		return
	}

	memory.Write(ptr, exec.input)
}
