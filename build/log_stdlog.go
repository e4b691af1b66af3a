//go:build stdlog

package build

// LoggingType writes to the console only.
const LoggingType = LogTypeStdOut
