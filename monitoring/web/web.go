// Package web holds the static dashboard of the timing monitor.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DevEnv names the environment variable that, when true, makes the monitor
// serve the dashboard from the source tree instead of the embedded copy.
const DevEnv = "CORETIMING_MONITOR_DEV"

//go:embed dist/*
var dist embed.FS

// Assets returns the dashboard files.
func Assets() http.FileSystem {
	if dev, _ := strconv.ParseBool(os.Getenv(DevEnv)); dev {
		return http.Dir(sourceDir())
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

func sourceDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot locate the dashboard sources")
	}

	dir := filepath.Join(filepath.Dir(file), "dist")
	fmt.Fprintf(os.Stderr, "Serving the monitor dashboard from %s\n", dir)

	return dir
}
