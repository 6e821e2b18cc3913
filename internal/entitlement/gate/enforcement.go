package gate

import "runtime"

// DefaultEnforcement reports whether the gate is active for this binary:
// marketplace builds on Windows and macOS. Everywhere else the gate is open.
func DefaultEnforcement() bool {
	return enforcedOn(marketplaceBuild, runtime.GOOS)
}

func enforcedOn(marketplace bool, goos string) bool {
	if !marketplace {
		return false
	}
	return goos == "windows" || goos == "darwin"
}
