//go:build !stdlog && !nolog

package build

// LoggingType writes to the console and, once initialized, the log file.
const LoggingType = LogTypeDefault
