package downloader

import (
	"os"

	"github.com/google/uuid"
)

// NewRunID returns an identifier for one run: the host name followed by a
// random UUID, so logs of runs from several machines can be told apart.
func NewRunID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return host + "-" + uuid.NewString()
}
