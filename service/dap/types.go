package dap

import (
	"encoding/json"
	"fmt"
)

// LaunchAttachConfig is the collection of launch and attach request
// attributes recognized by the DAP server. The machine is built before
// the server starts, launch and attach only bind the session to it.
type LaunchAttachConfig struct {
	// StopOnEntry keeps every core stopped after configurationDone,
	// otherwise the debuggable cores are resumed.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// ViewMode logs every executed instruction.
	ViewMode bool `json:"viewMode,omitempty"`

	// DebugCores lists the cores placed under debugger control, every
	// core when empty.
	DebugCores []int `json:"debugCores,omitempty"`
}

func unmarshalLaunchAttachArgs(input json.RawMessage, config *LaunchAttachConfig) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// Format json.UnmarshalTypeError error string in our own way. E.g.,
			//   "json: cannot unmarshal string into Go struct field LaunchAttachConfig.stopOnEntry of type bool"
			//   => "cannot unmarshal string into 'stopOnEntry' of type bool"
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, uerr.Type.String())
		}
		return err
	}
	return nil
}
