// Package util has the package-level logging switch shared by
// components that don't carry their own Verbose flag.
package util

import "log"

// Logging turns on the chatter from Logf.  cmd/opald sets it with
// -vv.
var Logging = false

// Logf calls log.Printf when Logging is true.
func Logf(format string, args ...interface{}) {
	if !Logging {
		return
	}
	log.Printf(format, args...)
}
