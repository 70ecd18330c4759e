/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * The main function
 */

package main

import (
	"bytes"
	"fmt"
	"os"
)

const usageText = `Usage:
    %s mode [options]

Modes are:
    standalone  - run forever, discover the physical composite token
                  and relay it over USB/IP, waiting for the next one
                  each time the token is unplugged
    debug       - logs duplicated on console, -bg option is ignored
    check       - check configuration and quirks files and exit
    status      - print smredir-relay status and exit

Options are
    -bg         - run in background (ignored in debug mode)
`

// RunMode represents the program run mode
type RunMode int

// Run modes:
//
//	RunStandalone - run forever, relaying the physical composite token
//	                over USB/IP and waiting for it to reappear whenever
//	                it's unplugged
//	RunDebug      - logs duplicated on console, -bg option is ignored
//	RunCheck      - check configuration and exit
//	RunStatus     - print smredir-relay status and exit
const (
	RunDefault RunMode = iota
	RunStandalone
	RunDebug
	RunCheck
	RunStatus
)

// String returns RunMode name
func (m RunMode) String() string {
	switch m {
	case RunDefault:
		return "default"
	case RunStandalone:
		return "standalone"
	case RunDebug:
		return "debug"
	case RunCheck:
		return "check"
	case RunStatus:
		return "status"
	}

	return fmt.Sprintf("unknown (%d)", int(m))
}

// RunParameters represents the program run parameters
type RunParameters struct {
	Mode       RunMode // Run mode
	Background bool    // Run in background
}

// usage prints detailed usage and exits
func usage() {
	fmt.Printf(usageText, os.Args[0])
	os.Exit(0)
}

// usageError prints usage error and exits
func usageError(format string, args ...interface{}) {
	if format != "" {
		fmt.Printf(format+"\n", args...)
	}

	fmt.Printf("Try %s -h for more information\n", os.Args[0])
	os.Exit(1)
}

// parseArgv parses program parameters. In a case of usage error,
// it prints a error message and exits
func parseArgv() (params RunParameters) {
	// Catch panics to log
	defer func() {
		v := recover()
		if v != nil {
			Log.Panic('!', "%v", v)
		}
	}()

	// For now, default mode is debug mode. It may change in a future
	params.Mode = RunDebug

	modes := 0
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-h", "-help", "--help":
			usage()
		case "standalone":
			params.Mode = RunStandalone
			modes++
		case "debug":
			params.Mode = RunDebug
			modes++
		case "check":
			params.Mode = RunCheck
			modes++
		case "status":
			params.Mode = RunStatus
			modes++
		case "-bg":
			params.Background = true
		default:
			usageError("Invalid argument %s", arg)
		}
	}

	if modes > 1 {
		usageError("Conflicting run modes")
	}

	if params.Mode == RunDebug {
		params.Background = false
	}

	return
}

// printStatus prints status of the running smredir-relay daemon, if any
func printStatus() {
	// Fetch status
	text, err := StatusRetrieve()

	if err != nil {
		Console.Info(' ', "%s", err)
		return
	}

	// Split into lines
	text = bytes.Trim(text, "\n")
	lines := bytes.Split(text, []byte("\n"))

	// Strip empty lines at the end
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[0 : len(lines)-1]
	}

	// Write to log, line by line
	for _, line := range lines {
		Console.Info(' ', "%s", line)
	}
}

// runRelay discovers the physical composite token and relays it over
// USB/IP until it disappears, then waits for the next one, forever
func runRelay() {
	stop := make(chan struct{})
	go HotplugWatch(relayVendorID, relayProductID, stop)
	defer close(stop)

	for {
		dev, err := NewDevice(relayVendorID, relayProductID)
		if err != nil {
			Log.Begin().Debug(' ', "device: %s, waiting for %4.4x:%4.4x",
				err, relayVendorID, relayProductID).Commit()
			<-UsbHotPlugChan
			continue
		}

		Log.Begin().Info('+', "device: %s attached", dev.Info.MakeAndModel()).Commit()

		for hotplugProbe(relayVendorID, relayProductID) {
			<-UsbHotPlugChan
		}

		Log.Begin().Info('-', "device: %s detached", dev.Info.MakeAndModel()).Commit()
		dev.Close()
	}
}

// The main function
func main() {
	var err error

	// Resolve our own executable path, needed by Daemon() to re-exec
	PathExecutableFile, err = os.Executable()
	Log.Check(err)

	// Parse arguments
	params := parseArgv()

	// Load configuration file
	err = ConfLoad()
	Log.Check(err)

	// Setup logging
	if params.Mode != RunDebug &&
		params.Mode != RunCheck &&
		params.Mode != RunStatus {
		Console.ToNowhere()
	} else if Conf.ColorConsole {
		Console.ToColorConsole()
	}

	Log.SetLevels(Conf.LogMain)
	Console.SetLevels(Conf.LogConsole)
	Log.Cc(LogAll, Console)

	// In RunCheck mode, report what was loaded
	if params.Mode == RunCheck {
		Console.Info(' ', "Configuration files: OK")
		Conf.Quirks.WriteLog("Quirks", Console)
	}

	// In RunStatus mode, print smredir-relay status, and we are done
	if params.Mode == RunStatus {
		printStatus()
		os.Exit(0)
	}

	// Check user privileges
	if os.Geteuid() != 0 {
		Log.Exit('!', "This program requires root privileges")
	}

	// If mode is "check", we are done
	if params.Mode == RunCheck {
		os.Exit(0)
	}

	// If background run is requested, it's time to fork
	if params.Background {
		err = Daemon()
		Log.Check(err)
		os.Exit(0)
	}

	// Prevent multiple copies of smredir-relay from running
	// at the same time
	os.MkdirAll(PathLockDir, 0755)
	lock, err := os.OpenFile(PathLockFile,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	Log.Check(err)
	defer lock.Close()

	err = FileLock(lock, true, false)
	if err == ErrLockIsBusy {
		Log.Exit('!', "smredir-relay already running")
	}
	Log.Check(err)

	// Write to log that we are here
	Log.Info(' ', "===============================")
	Log.Info(' ', "smredir-relay started in %q mode, pid=%d",
		params.Mode, os.Getpid())
	defer Log.Info(' ', "smredir-relay finished")

	// Close stdin/stdout/stderr, unless running in debug mode
	if params.Mode != RunDebug {
		err = CloseStdInOutErr()
		Log.Check(err)
	}

	// Start the control socket, so "status" mode can query us
	err = CtrlsockStart()
	Log.Check(err)
	defer CtrlsockStop()

	runRelay()
}
