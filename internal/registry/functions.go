// Package registry holds the read-only enumerations and value parsers for
// the bus protocol: system functions, datapoint IDs, module-type codes, and
// action-table actions (spec §4.2/§6.2).
package registry

import "fmt"

// SystemFunction is one of the fixed 2-digit system function codes.
type SystemFunction string

const (
	FuncDiscover        SystemFunction = "01"
	FuncReadDatapoint    SystemFunction = "02"
	FuncWriteConfig      SystemFunction = "04"
	FuncBlink            SystemFunction = "05"
	FuncUnblink          SystemFunction = "06"
	FuncReadActionTable  SystemFunction = "11"
	FuncEndOfTable       SystemFunction = "12"
	FuncAck              SystemFunction = "18"
)

var systemFunctionNames = map[SystemFunction]string{
	FuncDiscover:        "DISCOVER",
	FuncReadDatapoint:   "READ_DATAPOINT",
	FuncWriteConfig:     "WRITE_CONFIG",
	FuncBlink:           "BLINK",
	FuncUnblink:         "UNBLINK",
	FuncReadActionTable: "READ_ACTION_TABLE",
	FuncEndOfTable:      "END_OF_TABLE",
	FuncAck:             "ACK",
}

// Name returns the human-readable name of a system function, or "" if unknown.
func (f SystemFunction) Name() string {
	return systemFunctionNames[f]
}

func (f SystemFunction) String() string {
	if n := f.Name(); n != "" {
		return fmt.Sprintf("%s(%s)", n, string(f))
	}
	return fmt.Sprintf("UNKNOWN(%s)", string(f))
}
