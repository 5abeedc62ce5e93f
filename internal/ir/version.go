package ir

// Version constants for the program model and engine.
const (
	// IRVersion is the program model schema version.
	IRVersion = "1"

	// EngineVersion is the mfexec engine version.
	EngineVersion = "0.1.0"
)
