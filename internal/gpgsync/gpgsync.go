// Package gpgsync holds process-wide constants and flags shared across the
// module's packages.
package gpgsync

// Version is the current gpgsync release version, reported by the CLI's
// --version flag.
const Version = "0.1.0"

// DebugEnabled controls whether Logger.Debug/Debugf/Debugln actually emit
// anything. It's toggled on by the CLI's --log-level=debug flag at startup
// and otherwise left false.
var DebugEnabled = false
