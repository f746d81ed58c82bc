// Command coretiming runs an emulated timing session with a set of reference
// devices, optionally behind the HTTP monitor and with every event firing
// recorded.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	if err := Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
