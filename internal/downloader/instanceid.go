package downloader

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

// generateInstanceID returns a string unique to this process
// (hostname-pid-random). It tags the logs of every job the process runs.
func generateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
}
