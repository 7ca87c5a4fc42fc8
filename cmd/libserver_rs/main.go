// Command libserver_rs builds the native server library loaded by the
// bridge package:
//
//	go build -buildmode=c-shared -o libserver_rs.so ./cmd/libserver_rs
package main

import "C"

import (
	"os"
	"strconv"

	"github.com/pbs-tv/tvserver/logging"
	"github.com/pbs-tv/tvserver/server"
)

const (
	defaultWorkers          = 2
	defaultFetchConcurrency = 2
	defaultPort             = 3000
)

// pbs_start_server starts the server in the background and returns at once.
// Start failures are logged; the host process keeps running.
//
//export pbs_start_server
func pbs_start_server(cacheDir *C.char) {
	dir := C.GoString(cacheDir)
	logging.Init(os.Getenv("DEBUG") != "")
	server.StartInBackground(dir, defaultWorkers, defaultFetchConcurrency, port())
}

// port is PORT when set to a valid port number, otherwise 3000.
func port() int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 && p < 65536 {
		return p
	}
	return defaultPort
}

func main() {}
