package version

import (
	"fmt"
	"runtime"
)

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	// appPreRelease is appended to the version string when set.
	appPreRelease = "alpha"
)

// ProtocolVersion is the trade protocol version stamped on every trade
// message. Peers reject messages with a different version.
const ProtocolVersion uint32 = 1

// String returns the application version as a properly formed string.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		v = fmt.Sprintf("%s-%s", v, appPreRelease)
	}
	return v
}

// UserAgent returns the user agent advertised to peers.
func UserAgent() string {
	return fmt.Sprintf("/xmrescrow:%s/%s/", String(), runtime.GOOS)
}
