package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// DatapointID is a 2-digit datapoint identifier (spec §3.1 DataPoint).
type DatapointID string

const (
	DPModuleErrorCode DatapointID = "10"
	DPOutputState     DatapointID = "12"
	DPLightLevel      DatapointID = "15"
	DPVoltage         DatapointID = "20"
	DPLinkNumber      DatapointID = "21"
	DPModuleNumber    DatapointID = "22"
	DPModuleType      DatapointID = "23"
	DPSoftwareVersion DatapointID = "24"
	DPHardwareVersion DatapointID = "25"
	DPAutoReport      DatapointID = "26"
)

var datapointNames = map[DatapointID]string{
	DPModuleErrorCode: "MODULE_ERROR_CODE",
	DPOutputState:     "OUTPUT_STATE",
	DPLightLevel:      "LIGHT_LEVEL",
	DPVoltage:         "VOLTAGE",
	DPLinkNumber:      "LINK_NUMBER",
	DPModuleNumber:    "MODULE_NUMBER",
	DPModuleType:      "MODULE_TYPE",
	DPSoftwareVersion: "SOFTWARE_VERSION",
	DPHardwareVersion: "HARDWARE_VERSION",
	DPAutoReport:      "AUTO_REPORT",
}

// Name returns the human name for a datapoint ID, or "" if not registered.
func (d DatapointID) Name() string {
	return datapointNames[d]
}

// IdentityDatapoints are the identity fields the Export service reads for
// every discovered module via datapoint-read (spec §4.4 Export service).
// Spec names MODULE_TYPE_CODE alongside these; it is not queried separately,
// since the Export service fills it from the MODULE_TYPE reply (see Open
// Question 4c in DESIGN.md).
var IdentityDatapoints = []DatapointID{
	DPModuleType,
	DPLinkNumber,
	DPModuleNumber,
	DPSoftwareVersion,
	DPHardwareVersion,
	DPAutoReport,
}

// ParseError is returned by a datapoint value parser when the raw data does
// not match the expected shape.
type ParseError struct {
	Datapoint DatapointID
	Raw       string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("registry: parse %s %q: %s", e.Datapoint, e.Raw, e.Reason)
}

// Value is the typed result of parsing a datapoint's raw data value.
type Value struct {
	Raw    string
	Parsed any
	Unit   string
}

// OutputState is the parsed form of an OUTPUT_STATE (id 12) datapoint: an
// ordered list of 4 booleans, index 0 mapped to the rightmost 'B' digit in
// the raw "xxxxBBBB" string per spec §4.2/§8.2 scenario B.
type OutputState struct {
	Outputs [4]bool
}

// LightLevel is one (channel, percent) pair of a LIGHT_LEVEL (id 15) reading.
type LightLevel struct {
	Channel int
	Percent int
}

// Parse dispatches to the correct parser for id and returns a typed Value.
func Parse(id DatapointID, raw string) (Value, error) {
	switch id {
	case DPOutputState:
		return parseOutputState(raw)
	case DPLightLevel:
		return parseLightLevel(raw)
	case DPVoltage:
		return parseVoltage(raw)
	case DPModuleErrorCode:
		return parseModuleErrorCode(raw)
	case DPLinkNumber, DPModuleNumber:
		return parseDecimalInt(id, raw)
	case DPModuleType, DPSoftwareVersion, DPHardwareVersion:
		return Value{Raw: raw, Parsed: raw}, nil
	case DPAutoReport:
		return parseAutoReport(raw)
	default:
		return Value{Raw: raw, Parsed: raw}, nil
	}
}

// parseOutputState parses "xxxxBBBB": the last 4 characters are 0/1 flags.
// Index 0 of the result is the rightmost flag (spec §8.2 scenario B: raw
// "xxxx1110" parses to {false,true,true,true}).
func parseOutputState(raw string) (Value, error) {
	if len(raw) < 4 {
		return Value{}, &ParseError{DPOutputState, raw, "need at least 4 trailing bits"}
	}
	bits := raw[len(raw)-4:]
	var state OutputState
	for i := 0; i < 4; i++ {
		// bits[3] is the rightmost character -> output index 0.
		c := bits[3-i]
		switch c {
		case '1':
			state.Outputs[i] = true
		case '0':
			state.Outputs[i] = false
		default:
			return Value{}, &ParseError{DPOutputState, raw, fmt.Sprintf("invalid bit %q", c)}
		}
	}
	return Value{Raw: raw, Parsed: state}, nil
}

// parseLightLevel parses "NN:PPP[%],..." into a list of (channel, percent).
func parseLightLevel(raw string) (Value, error) {
	var levels []LightLevel
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		colon := strings.IndexByte(part, ':')
		if colon < 0 {
			return Value{}, &ParseError{DPLightLevel, raw, fmt.Sprintf("missing ':' in %q", part)}
		}
		chanStr := part[:colon]
		pctStr := strings.TrimSuffix(part[colon+1:], "%")

		ch, err := strconv.Atoi(chanStr)
		if err != nil {
			return Value{}, &ParseError{DPLightLevel, raw, fmt.Sprintf("bad channel %q", chanStr)}
		}
		pct, err := strconv.Atoi(pctStr)
		if err != nil {
			return Value{}, &ParseError{DPLightLevel, raw, fmt.Sprintf("bad percent %q", pctStr)}
		}
		levels = append(levels, LightLevel{Channel: ch, Percent: pct})
	}
	return Value{Raw: raw, Parsed: levels}, nil
}

// parseVoltage parses "+DD,D§V": a signed decimal with a comma decimal
// separator and a '§'-prefixed unit suffix, stripped from the parsed value.
func parseVoltage(raw string) (Value, error) {
	s := raw
	unit := ""
	if idx := strings.IndexByte(s, 0xA7); idx >= 0 {
		unit = s[idx:]
		s = s[:idx]
	}
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, &ParseError{DPVoltage, raw, fmt.Sprintf("bad decimal %q", s)}
	}
	return Value{Raw: raw, Parsed: v, Unit: unit}, nil
}

// parseModuleErrorCode parses a 2-hex-digit code; "00" means healthy.
func parseModuleErrorCode(raw string) (Value, error) {
	if len(raw) != 2 {
		return Value{}, &ParseError{DPModuleErrorCode, raw, "expected exactly 2 hex digits"}
	}
	code, err := strconv.ParseUint(raw, 16, 8)
	if err != nil {
		return Value{}, &ParseError{DPModuleErrorCode, raw, "not valid hex"}
	}
	return Value{Raw: raw, Parsed: uint8(code)}, nil
}

func parseDecimalInt(id DatapointID, raw string) (Value, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Value{}, &ParseError{id, raw, "not a decimal integer"}
	}
	return Value{Raw: raw, Parsed: n}, nil
}

func parseAutoReport(raw string) (Value, error) {
	switch raw {
	case "00", "0":
		return Value{Raw: raw, Parsed: false}, nil
	case "01", "1":
		return Value{Raw: raw, Parsed: true}, nil
	default:
		return Value{Raw: raw, Parsed: raw}, nil
	}
}
