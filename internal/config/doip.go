// Package config carries the DoIP gateway configuration read from the
// "Main" table of a simulation file.
package config

import (
	"fmt"

	"github.com/tturner/ecusim/internal/sim"
)

// Main table field names.
const (
	MainIdent             = "Main"
	FieldVIN              = "VIN"
	FieldLogicalAddress   = "LOGICAL_ADDRESS"
	FieldEID              = "EID"
	FieldGID              = "GID"
	FieldFurtherAction    = "FURTHER_ACTION"
	FieldAnnounceNum      = "ANNOUNCE_NUM"
	FieldAnnounceInterval = "ANNOUNCE_INTERVAL"
	FieldInactivity       = "T_TCP_General_Inactivity"
)

// Defaults used for absent Main fields.
const (
	DefaultVIN              = "00000000000000000"
	DefaultAnnounceNum      = 3
	DefaultAnnounceInterval = 500
	DefaultInactivityMs     = 50000
)

// Doip is the gateway configuration for the DoIP front.
type Doip struct {
	VIN            string
	LogicalAddress uint16
	EID            uint64 // 6 bytes; zero with EIDFromMAC set means derive from a MAC
	EIDFromMAC     bool
	GID            uint64 // 6 bytes
	FurtherAction  uint8
	AnnounceNum    int
	AnnounceIntMs  int
	InactivityMs   int
}

// DefaultDoip returns the defaults DoipFromSim starts from before
// applying the fields present in the Main table.
func DefaultDoip() *Doip {
	return &Doip{
		VIN:           DefaultVIN,
		EIDFromMAC:    true,
		AnnounceNum:   DefaultAnnounceNum,
		AnnounceIntMs: DefaultAnnounceInterval,
		InactivityMs:  DefaultInactivityMs,
	}
}

// DoipFromSim reads the Main table of a simulation file, filling in the
// defaults for absent fields.
func DoipFromSim(f *sim.File) (*Doip, error) {
	if !f.Has(MainIdent) {
		return nil, fmt.Errorf("simulation file has no %s table", MainIdent)
	}
	s := f.Bind(MainIdent)
	cfg := DefaultDoip()

	if v, ok := s.Attr(FieldVIN); ok && v.String() != "" {
		cfg.VIN = v.String()
	}
	if n, ok := s.AttrUint(FieldLogicalAddress); ok {
		cfg.LogicalAddress = uint16(n)
	}
	if n, ok := s.AttrUint(FieldEID); ok {
		cfg.EID = n
		cfg.EIDFromMAC = false
	}
	if n, ok := s.AttrUint(FieldGID); ok {
		cfg.GID = n
	}
	if n, ok := s.AttrUint(FieldFurtherAction); ok {
		cfg.FurtherAction = uint8(n)
	}
	if n, ok := s.AttrUint(FieldAnnounceNum); ok {
		cfg.AnnounceNum = int(n)
	}
	if n, ok := s.AttrUint(FieldAnnounceInterval); ok {
		cfg.AnnounceIntMs = int(n)
	}
	if n, ok := s.AttrUint(FieldInactivity); ok {
		cfg.InactivityMs = int(n)
	}

	// VINs are 17 characters on the wire; short values are padded with
	// zeros, long ones truncated.
	for len(cfg.VIN) < 17 {
		cfg.VIN += "0"
	}
	cfg.VIN = cfg.VIN[:17]

	return cfg, nil
}
