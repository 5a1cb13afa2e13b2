// Package ecu holds the per-ECU behavior model: cached identifiers,
// the request byte trees built from the simulation file, diagnostic
// session state, and the security-access progression.
package ecu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tturner/ecusim/internal/logging"
	"github.com/tturner/ecusim/internal/pattern"
	"github.com/tturner/ecusim/internal/sim"
)

// DefaultBroadcastID is the functional addressing CAN id used when the
// simulation file does not set one.
const DefaultBroadcastID = 0x7DF

// Model is one simulated ECU. Identifier attributes are cached at
// construction; the request byte trees are built once and never
// mutated afterwards.
type Model struct {
	script *sim.Script
	logger *logging.Logger

	ident string

	hasRequestID bool
	requestID    uint32

	hasResponseID bool
	responseID    uint32

	broadcastID uint32

	hasJ1939Source bool
	j1939Source    uint8

	hasDoipAddress bool
	doipAddress    uint16

	rawTree *pattern.Tree
	pgnTree *pattern.Tree

	// plainPGNOrder lists the PGN keys without a '#' separator in file
	// order, as written. These entries feed the periodic senders and
	// the 0xEA00 request table.
	plainPGNOrder []string

	Session *SessionController

	// securityAccess is the expected next security-access subfunction,
	// zero when the handshake is idle. Touched only by the UDS
	// dispatcher, which the physical and the broadcast receive goroutines
	// share; access is not synchronized.
	securityAccess uint8
}

// NewModel builds the model for one ECU table of a simulation file.
// Malformed request keys are logged and skipped; a duplicate trailing
// wildcard is fatal for the ECU.
func NewModel(script *sim.Script, logger *logging.Logger) (*Model, error) {
	m := &Model{
		script:      script,
		logger:      logger,
		ident:       script.Ident(),
		broadcastID: DefaultBroadcastID,
		Session:     NewSessionController(),
	}
	script.Env().BindSession(m.Session)

	if v, ok := script.AttrUint(sim.FieldRequestID); ok {
		m.hasRequestID = true
		m.requestID = uint32(v)
	}
	if v, ok := script.AttrUint(sim.FieldResponseID); ok {
		m.hasResponseID = true
		m.responseID = uint32(v)
	}
	if v, ok := script.AttrUint(sim.FieldBroadcastID); ok {
		m.broadcastID = uint32(v)
	}
	if v, ok := script.AttrUint(sim.FieldJ1939Source); ok {
		m.hasJ1939Source = true
		m.j1939Source = uint8(v)
	}
	if v, ok := script.AttrUint(sim.FieldDoipLogical); ok {
		m.hasDoipAddress = true
		m.doipAddress = uint16(v)
	}

	var err error
	if m.rawTree, err = m.buildTree(sim.TableRaw, allKeys); err != nil {
		return nil, err
	}
	if m.pgnTree, err = m.buildTree(sim.TablePGNs, payloadKeys); err != nil {
		return nil, err
	}

	for _, key := range script.Keys(sim.TablePGNs) {
		if !strings.Contains(key, "#") {
			m.plainPGNOrder = append(m.plainPGNOrder, key)
		}
	}

	return m, nil
}

type keyFilter func(string) bool

func allKeys(string) bool         { return true }
func payloadKeys(key string) bool { return strings.Contains(key, "#") }

// buildTree indexes the keys of one request table. Invalid keys are
// skipped with a diagnostic; a duplicate wildcard aborts the build.
func (m *Model) buildTree(table string, keep keyFilter) (*pattern.Tree, error) {
	tree := pattern.New()
	for _, key := range m.script.Keys(table) {
		if !keep(key) {
			continue
		}
		v, ok := m.script.Attr(table, key)
		if !ok {
			continue
		}
		if err := tree.Insert(key, v); err != nil {
			if errors.Is(err, pattern.ErrDuplicateWildcard) {
				return nil, fmt.Errorf("%s: %s table: %w", m.ident, table, err)
			}
			m.logger.Error("%s: ignoring invalid request %q: %v", m.ident, key, err)
		}
	}
	return tree, nil
}

// Ident returns the ECU identifier.
func (m *Model) Ident() string { return m.ident }

// Script returns the bound simulation script.
func (m *Model) Script() *sim.Script { return m.script }

// HasUDS reports whether the ECU carries ISO-TP identifiers.
func (m *Model) HasUDS() bool { return m.hasRequestID && m.hasResponseID }

// RequestID returns the ISO-TP receive CAN id.
func (m *Model) RequestID() uint32 { return m.requestID }

// ResponseID returns the ISO-TP transmit CAN id.
func (m *Model) ResponseID() uint32 { return m.responseID }

// BroadcastID returns the functional addressing CAN id.
func (m *Model) BroadcastID() uint32 { return m.broadcastID }

// HasJ1939 reports whether the ECU has a J1939 source address.
func (m *Model) HasJ1939() bool { return m.hasJ1939Source }

// J1939Source returns the J1939 node address.
func (m *Model) J1939Source() uint8 { return m.j1939Source }

// HasDoip reports whether the ECU has a DoIP logical address.
func (m *Model) HasDoip() bool { return m.hasDoipAddress }

// DoipAddress returns the DoIP logical address.
func (m *Model) DoipAddress() uint16 { return m.doipAddress }

// RawResponse matches request against the Raw tree and evaluates the
// bound response. ok is false when no pattern matched; a matched but
// empty response returns ok with an empty string, which suppresses
// sending.
func (m *Model) RawResponse(request []byte) (string, bool) {
	return m.treeResponse(m.rawTree, request, sim.BytesToHex(request))
}

// J1939Response matches the payload-keyed PGN tree. The lookup prefixes
// the payload with the PGN as three little-endian bytes; callables
// receive only the payload.
func (m *Model) J1939Response(pgn uint32, payload []byte) (string, bool) {
	lookup := make([]byte, 0, 3+len(payload))
	lookup = append(lookup, byte(pgn), byte(pgn>>8), byte(pgn>>16))
	lookup = append(lookup, payload...)
	return m.treeResponse(m.pgnTree, lookup, sim.BytesToHex(payload))
}

func (m *Model) treeResponse(tree *pattern.Tree, lookup []byte, arg string) (string, bool) {
	v, ok := tree.Match(lookup)
	if !ok {
		return "", false
	}
	resp, err := m.script.Invoke(v.(*sim.Value), arg)
	if err != nil {
		m.logger.Error("%s: response evaluation failed: %v", m.ident, err)
		return "", false
	}
	return resp, true
}

// DataByIdentifier resolves a ReadDataByIdentifier entry, optionally
// scoped to a session sub-table ("Programming" or "Extended"). The DID
// is given in its hex string form, e.g. "F1 90".
func (m *Model) DataByIdentifier(did string, session string) (string, bool) {
	var (
		v  *sim.Value
		ok bool
	)
	if session != "" {
		v, ok = m.script.Attr(session, sim.TableReadDataByID, did)
	} else {
		v, ok = m.script.Attr(sim.TableReadDataByID, did)
	}
	if !ok {
		return "", false
	}
	resp, err := m.script.Invoke(v, did)
	if err != nil {
		m.logger.Error("%s: DID %s evaluation failed: %v", m.ident, did, err)
		return "", false
	}
	return resp, true
}

// Seed returns the configured security-access seed for a subfunction
// level, or "" when none is defined.
func (m *Model) Seed(level uint8) string {
	v, ok := m.script.Attr(sim.TableSeed, strconv.Itoa(int(level)))
	if !ok {
		return ""
	}
	resp, err := m.script.Invoke(v, strconv.Itoa(int(level)))
	if err != nil {
		return ""
	}
	return resp
}

// SecurityAccessExpected returns the expected next subfunction, zero
// when idle.
func (m *Model) SecurityAccessExpected() uint8 { return m.securityAccess }

// SetSecurityAccessExpected stores the expected next subfunction.
func (m *Model) SetSecurityAccessExpected(v uint8) { m.securityAccess = v }

// PlainPGNKeys returns the PGN keys without a '#' separator in file
// order, as written in the file. These drive the periodic senders and
// answer 0xEA00 requests.
func (m *Model) PlainPGNKeys() []string {
	return append([]string(nil), m.plainPGNOrder...)
}

// PGNData evaluates a plain PGN key (as written in the file) to its
// current payload and cycle time.
func (m *Model) PGNData(key string) (sim.PGNData, bool) {
	return m.script.PGN(key)
}
