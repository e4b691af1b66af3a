//go:build !dev

package build

// Deployment specifies a production build.
const Deployment = Production

// LogLevel is the level used by stdout sub loggers. Production builds only
// create stdout loggers when explicitly asked to.
var LogLevel = "info"
