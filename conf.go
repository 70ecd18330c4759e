/* smredir-relay - relays a physical CCID/FIDO/WebUSB token over USB/IP
 *
 * Program configuration
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ConfFileName defines a name of smredir-relay configuration file
	ConfFileName = "smredir.conf"
)

// Configuration represents a program configuration
type Configuration struct {
	USBIPListenAddr   string    // Address:port the USB/IP server listens on
	DNSSdEnable       bool      // Enable DNS-SD advertising
	DNSSdServiceType  string    // DNS-SD service type to advertise
	DNSSdInterface    string    // Network interface to advertise on ("all" by default)
	ReaderNameFilter  string    // Glob pattern restricting which PC/SC reader is relayed
	LogDevice         LogLevel  // Per-reader LogLevel mask
	LogMain           LogLevel  // Main log LogLevel mask
	LogConsole        LogLevel  // Console  LogLevel mask
	LogMaxFileSize    int64     // Maximum log file size
	LogMaxBackupFiles uint      // Count of files preserved during rotation
	ColorConsole      bool      // Enable ANSI colors on console
	Quirks            QuirksDb  // Device quirks
}

// Conf contains a global instance of program configuration
var Conf = Configuration{
	USBIPListenAddr:   fmt.Sprintf(":%d", USBIPPort),
	DNSSdEnable:       true,
	DNSSdServiceType:  "_usbip._tcp",
	DNSSdInterface:    "all",
	LogDevice:         LogDebug,
	LogMain:           LogDebug,
	LogConsole:        LogDebug,
	LogMaxFileSize:    256 * 1024,
	LogMaxBackupFiles: 5,
	ColorConsole:      true,
}

// ConfLoad loads the program configuration
func ConfLoad() error {
	// Obtain path to executable directory
	exepath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("conf: %s", err)
	}

	exepath = filepath.Dir(exepath)

	// Build list of configuration files
	files := []string{
		filepath.Join(PathConfDir, ConfFileName),
		filepath.Join(exepath, ConfFileName),
	}

	// Load file by file
	for _, file := range files {
		err = confLoadInternal(file)
		if err != nil {
			return fmt.Errorf("conf: %s", err)
		}
	}

	// Load quirks
	quirksDirs := []string{
		PathQuirksDir,
		PathConfQuirksDir,
		filepath.Join(exepath, "smredir-quirks"),
	}

	if err == nil {
		Conf.Quirks, err = LoadQuirksSet(quirksDirs...)
	}

	return err
}

// Create "bad value" error
func confBadValue(rec *IniRecord, format string, args ...interface{}) error {
	return fmt.Errorf(rec.Key+": "+format, args...)
}

// Load the program configuration -- internal version
func confLoadInternal(path string) error {
	// Open configuration file
	ini, err := OpenIniFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = nil
		}
		return err
	}

	defer ini.Close()

	// Extract options
	for err == nil {
		var rec *IniRecord
		rec, err = ini.Next()
		if err != nil {
			break
		}

		switch rec.Section {
		case "network":
			switch rec.Key {
			case "listen":
				Conf.USBIPListenAddr = rec.Value
			case "dns-sd":
				err = confLoadBinaryKey(&Conf.DNSSdEnable, rec, "disable", "enable")
			case "dns-sd-service-type":
				Conf.DNSSdServiceType = rec.Value
			case "dns-sd-interface":
				Conf.DNSSdInterface = rec.Value
			case "reader-filter":
				Conf.ReaderNameFilter = rec.Value
			}
		case "logging":
			switch rec.Key {
			case "device-log":
				err = confLoadLogLevelKey(&Conf.LogDevice, rec)
			case "main-log":
				err = confLoadLogLevelKey(&Conf.LogMain, rec)
			case "console-log":
				err = confLoadLogLevelKey(&Conf.LogConsole, rec)
			case "console-color":
				err = confLoadBinaryKey(&Conf.ColorConsole, rec, "disable", "enable")
			case "max-file-size":
				err = confLoadSizeKey(&Conf.LogMaxFileSize, rec)
			case "max-backup-files":
				err = confLoadUintKey(&Conf.LogMaxBackupFiles, rec)
			}
		}
	}

	if err != nil && err != io.EOF {
		return err
	}

	if Conf.USBIPListenAddr == "" {
		return errors.New("network.listen must not be empty")
	}

	return nil
}

// Load the binary key
func confLoadBinaryKey(out *bool, rec *IniRecord, vFalse, vTrue string) error {
	switch rec.Value {
	case vFalse:
		*out = false
		return nil
	case vTrue:
		*out = true
		return nil
	default:
		return confBadValue(rec, "must be %s or %s", vFalse, vTrue)
	}
}

// Load LogLevel key
func confLoadLogLevelKey(out *LogLevel, rec *IniRecord) error {
	var mask LogLevel
	for _, s := range strings.Split(rec.Value, ",") {
		s = strings.TrimSpace(s)
		switch s {
		case "":
		case "error":
			mask |= LogError
		case "info":
			mask |= LogInfo | LogError
		case "debug":
			mask |= LogDebug | LogInfo | LogError
		case "trace-ccid":
			mask |= LogTraceCCID | LogDebug | LogInfo | LogError
		case "trace-usbip":
			mask |= LogTraceUSBIP | LogDebug | LogInfo | LogError
		case "trace-webusb":
			mask |= LogTraceWebUSB | LogDebug | LogInfo | LogError
		case "all", "trace-all":
			mask |= LogAll
		default:
			return confBadValue(rec, "invalid log level %q", s)
		}
	}

	*out = mask
	return nil
}

// Load size key
func confLoadSizeKey(out *int64, rec *IniRecord) error {
	units := uint64(1)

	if l := len(rec.Value); l > 0 {
		switch rec.Value[l-1] {
		case 'k', 'K':
			units = 1024
		case 'm', 'M':
			units = 1024 * 1024
		}

		if units != 1 {
			rec.Value = rec.Value[:l-1]
		}
	}

	sz, err := strconv.ParseUint(rec.Value, 10, 64)
	if err != nil {
		return confBadValue(rec, "%q: invalid size", rec.Value)
	}

	if sz > uint64(math.MaxInt64/units) {
		return confBadValue(rec, "size too large")
	}

	*out = int64(sz * units)
	return nil
}

// Load unsigned integer key
func confLoadUintKey(out *uint, rec *IniRecord) error {
	num, err := strconv.ParseUint(rec.Value, 10, 0)
	if err != nil {
		return confBadValue(rec, "%q: invalid number", rec.Value)
	}

	*out = uint(num)
	return nil
}
