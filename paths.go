/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Common paths
 */

package main

const (
	// PathConfDir is the path to configuration directory
	PathConfDir = "/etc/smredir"

	// PathQuirksDir is the path to the built-in quirks directory
	PathQuirksDir = "/usr/share/smredir/quirks"

	// PathConfQuirksDir is the path to the user-overridable quirks directory
	PathConfQuirksDir = "/etc/smredir/smredir-quirks"

	// PathProgState is the path to program state directory
	PathProgState = "/var/lib/smredir"

	// PathLockDir is the path to directory that contains lock files
	PathLockDir = PathProgState + "/lock"

	// PathLockFile is the path to the single-instance lock file
	PathLockFile = PathLockDir + "/smredir.lock"

	// PathProgStateDev is the path to directory where per-reader state is saved
	PathProgStateDev = PathProgState + "/dev"

	// PathLogDir is the path to the per-device log directory
	PathLogDir = "/var/log/smredir"

	// PathControlSocket is the path to the control unix-domain socket
	PathControlSocket = PathProgState + "/smredir.sock"
)

// PathExecutableFile is the resolved path to the running executable,
// used by Daemon() to re-exec itself in the background. Set from main().
var PathExecutableFile string
