package audio

// Device represents an available audio input device.
type Device struct {
	// ID is the opaque backend-specific identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}

// Source selects where samples come from.
type Source string

// Supported sample sources.
const (
	SourceDevice    Source = "device"
	SourceWAV       Source = "wav"
	SourceSynthetic Source = "synthetic"
)
