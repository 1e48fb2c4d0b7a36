package ir

// Version constants for the wire format and engine.
const (
	// FormatVersion is the serialized network and journal schema version.
	FormatVersion = "1"

	// EngineVersion is the trellis engine version.
	EngineVersion = "0.1.0"
)
