package authservice

import (
	"os"

	"github.com/google/uuid"
)

// DeviceID returns configured when set, otherwise an id derived from the host
// name. The derived id is a UUIDv5, so it stays the same across runs.
func DeviceID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("elearn-client."+host)).String()
}
