// Package sim loads simulation files and exposes them to the dispatch
// core behind the Handle interface. A simulation file is a YAML
// document whose top-level keys are ECU identifiers (plus the special
// "Main" document configuring the DoIP gateway); each ECU table carries
// identifier attributes, request→response tables, and PGN definitions.
package sim

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Well-known simulation file fields.
const (
	FieldRequestID      = "RequestId"
	FieldResponseID     = "ResponseId"
	FieldBroadcastID    = "BroadcastId"
	FieldJ1939Source    = "J1939SourceAddress"
	FieldDoipLogical    = "DoIPLogicalEcuAddress"
	TableReadDataByID   = "ReadDataByIdentifier"
	TableSeed           = "Seed"
	TableRaw            = "Raw"
	TablePGNs           = "PGNs"
	FieldPGNPayload     = "payload"
	FieldPGNCycleTime   = "cycleTime"
	SessionProgramming  = "Programming"
	SessionExtended     = "Extended"
)

// Handle is the opaque script surface the dispatch core consumes:
// attribute lookup, callable invocation, and table-key listing. All
// implementations serialize access; the core may call from any
// goroutine.
type Handle interface {
	// Attr resolves a value under the handle's ECU table.
	Attr(path ...string) (*Value, bool)
	// Invoke evaluates v against the raw request rendered as a
	// space-separated hex string. Literals return their text as-is;
	// callables run the bound function.
	Invoke(v *Value, request string) (string, error)
	// Keys lists the keys of the table under path, in file order.
	Keys(path ...string) []string
}

// File is one parsed simulation file. ECU-scoped handles are derived
// with Bind; they share the file's mutex, so script evaluation for all
// ECUs of a file is serialized the way an embedded interpreter would
// require.
type File struct {
	mu    sync.Mutex
	path  string
	root  *Value
	funcs *FuncTable
}

// Load reads and parses a simulation file.
func Load(path string, funcs *FuncTable) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read simulation file: %w", err)
	}
	f, err := Parse(data, funcs)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.path = path
	return f, nil
}

// Parse parses simulation YAML data.
func Parse(data []byte, funcs *FuncTable) (*File, error) {
	if funcs == nil {
		funcs = NewFuncTable()
	}
	root := new(Value)
	if err := yaml.Unmarshal(data, root); err != nil {
		return nil, fmt.Errorf("parse simulation YAML: %w", err)
	}
	if root.Kind() != KindTable {
		return nil, fmt.Errorf("simulation file must be a mapping of ECU tables")
	}
	return &File{root: root, funcs: funcs}, nil
}

// Path returns the file the simulation was loaded from.
func (f *File) Path() string { return f.path }

// Idents lists the top-level table names (ECU identifiers and "Main").
func (f *File) Idents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.root.Keys()
}

// Has reports whether the file defines a table for ident.
func (f *File) Has(ident string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.root.Lookup(ident)
	return ok && v.Kind() == KindTable
}

// Bind returns the per-ECU handle for ident. Each handle owns its Env,
// so helper state such as the received-data accumulator is scoped to
// the ECU.
func (f *File) Bind(ident string) *Script {
	return &Script{file: f, ident: ident, env: NewEnv()}
}

// Script is an ECU-scoped view of a File. It implements Handle.
type Script struct {
	file  *File
	ident string
	env   *Env
}

// Ident returns the ECU identifier this script is bound to.
func (s *Script) Ident() string { return s.ident }

// Env returns the helper environment backing this script's callables.
func (s *Script) Env() *Env { return s.env }

// Attr resolves a value under the script's ECU table.
func (s *Script) Attr(path ...string) (*Value, bool) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	return s.file.root.Lookup(append([]string{s.ident}, path...)...)
}

// AttrUint resolves a numeric attribute under the script's ECU table.
func (s *Script) AttrUint(path ...string) (uint64, bool) {
	v, ok := s.Attr(path...)
	if !ok {
		return 0, false
	}
	return v.Uint()
}

// Invoke evaluates v for the given request. The file mutex is held for
// the duration of the call and never across I/O; callables must not
// block on the wire.
func (s *Script) Invoke(v *Value, request string) (string, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	return s.invokeLocked(v, request)
}

func (s *Script) invokeLocked(v *Value, request string) (string, error) {
	switch v.Kind() {
	case KindLiteral:
		return v.String(), nil
	case KindCall:
		fn, ok := s.file.funcs.Resolve(v.String())
		if !ok {
			return "", fmt.Errorf("unknown callable %q in %s", v.String(), s.ident)
		}
		return fn(s.env, request)
	default:
		return "", fmt.Errorf("table value is not invocable in %s", s.ident)
	}
}

// Keys lists the keys of the table under path, in file order.
func (s *Script) Keys(path ...string) []string {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	v, ok := s.file.root.Lookup(append([]string{s.ident}, path...)...)
	if !ok {
		return nil
	}
	return v.Keys()
}

// PGNData is one evaluated cyclic-PGN entry.
type PGNData struct {
	Payload   string
	CycleTime uint32
}

// PGN evaluates the entry under PGNs[key]: a literal or callable value
// yields a payload with cycle time zero; a table contributes payload
// (literal or callable) and cycleTime.
func (s *Script) PGN(key string) (PGNData, bool) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	v, ok := s.file.root.Lookup(s.ident, TablePGNs, key)
	if !ok {
		return PGNData{}, false
	}

	var data PGNData
	switch v.Kind() {
	case KindTable:
		if ct, ok := v.Lookup(FieldPGNCycleTime); ok {
			if n, ok := ct.Uint(); ok {
				data.CycleTime = uint32(n)
			}
		}
		if p, ok := v.Lookup(FieldPGNPayload); ok {
			payload, err := s.invokeLocked(p, "")
			if err != nil {
				return PGNData{}, false
			}
			data.Payload = payload
		}
	default:
		payload, err := s.invokeLocked(v, "")
		if err != nil {
			return PGNData{}, false
		}
		data.Payload = payload
	}
	return data, true
}
