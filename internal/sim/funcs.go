package sim

import (
	"sync"
)

// Func is a callable bound in a simulation file via `!call name`. It
// receives the raw request as a space-separated hex byte string and
// returns the response in the same form. An empty response suppresses
// sending.
type Func func(env *Env, request string) (string, error)

// FuncTable resolves callable names. The default table carries the
// built-in callables used by the bundled simulation files; programs may
// register their own before loading.
type FuncTable struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewFuncTable returns a table preloaded with the built-in callables.
func NewFuncTable() *FuncTable {
	t := &FuncTable{funcs: make(map[string]Func)}
	registerBuiltins(t)
	return t
}

// Register binds name to fn, replacing any previous binding.
func (t *FuncTable) Register(name string, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs[name] = fn
}

// Resolve looks up a callable by name.
func (t *FuncTable) Resolve(name string) (Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.funcs[name]
	return fn, ok
}

// registerBuiltins installs the callables the bundled simulations use.
func registerBuiltins(t *FuncTable) {
	// echoRequest answers any request with its own bytes.
	t.Register("echoRequest", func(env *Env, request string) (string, error) {
		return request, nil
	})

	// counterAck acknowledges a transfer-data block: 76 <block counter>.
	t.Register("counterAck", func(env *Env, request string) (string, error) {
		return "76 " + GetCounterByte(request), nil
	})

	// collectData accumulates the data bytes of a transfer-data block
	// and acknowledges it.
	t.Register("collectData", func(env *Env, request string) (string, error) {
		env.GetDataBytes(request)
		return "76 " + GetCounterByte(request), nil
	})

	// transferChecksum finishes a transfer: answers with the CRC of
	// everything collected so far and clears the accumulator.
	t.Register("transferChecksum", func(env *Env, request string) (string, error) {
		return "77 " + env.CreateHash(), nil
	})

	// sessionInfo reports the active diagnostic session:
	// 62 F1 86 <session>.
	t.Register("sessionInfo", func(env *Env, request string) (string, error) {
		return "62 F1 86 " + ToByteResponse(uint32(env.CurrentSession()), 1), nil
	})
}
