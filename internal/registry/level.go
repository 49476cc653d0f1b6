package registry

// Level is the compatibility policy applied when a new descriptor
// version is registered for a message name.
type Level string

const (
	// Backward: payloads written with the old descriptor still coerce
	// correctly under the new one.
	Backward Level = "BACKWARD"
	// Forward: payloads written with the new descriptor still coerce
	// correctly under the old one.
	Forward Level = "FORWARD"
	// Full: both backward and forward.
	Full Level = "FULL"
	// None: no compatibility checking.
	None Level = "NONE"
	// BackwardTransitive: backward against every registered version.
	BackwardTransitive Level = "BACKWARD_TRANSITIVE"
	// ForwardTransitive: forward against every registered version.
	ForwardTransitive Level = "FORWARD_TRANSITIVE"
	// FullTransitive: both, against every registered version.
	FullTransitive Level = "FULL_TRANSITIVE"
)
