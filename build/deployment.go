package build

// DeploymentType selects the default logging of a binary at compile time.
type DeploymentType byte

const (
	// Development builds create console sub loggers at LogLevel.
	Development DeploymentType = iota

	// Production builds leave sub loggers disabled until the caller wires
	// them to handlers.
	Production
)
