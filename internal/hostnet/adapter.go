package hostnet

import (
	"log"
	"os"
	"runtime"
	"strings"

	"n2nctl/internal/execx"
)

// TapAdapterName is the driver description of the Windows TAP adapter.
const TapAdapterName = "TAP-Windows Adapter"

// AdapterChecker reports whether a virtual network adapter is installed.
type AdapterChecker struct {
	Runner execx.Runner
	// GOOS defaults to runtime.GOOS.
	GOOS string
	// TunPath defaults to /dev/net/tun.
	TunPath string
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Check looks for the TAP adapter on Windows (wmic first, ipconfig as a
// fallback) and for the tun device elsewhere.
func (a AdapterChecker) Check() (bool, error) {
	goos := a.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	switch goos {
	case "windows":
		out, err := a.Runner.Output("wmic", "nic", "list", "brief")
		if err == nil {
			return strings.Contains(out, TapAdapterName), nil
		}
		a.logger().Printf("wmic failed, trying ipconfig: %v", err)
		out, err = a.Runner.Output("ipconfig", "/all")
		if err != nil {
			return false, err
		}
		return strings.Contains(out, TapAdapterName), nil
	case "darwin":
		// utun devices are built in.
		return true, nil
	default:
		path := a.TunPath
		if path == "" {
			path = "/dev/net/tun"
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
}

func (a AdapterChecker) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}
