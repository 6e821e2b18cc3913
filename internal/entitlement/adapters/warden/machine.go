package warden

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shirou/gopsutil/v4/host"
)

// MachineID returns a stable seat identifier for this host. The raw host id
// never leaves the machine.
func MachineID(ctx context.Context) (string, error) {
	id, err := host.HostIDWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("read host id: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("host id is empty")
	}
	return hashMachineID(id), nil
}

func hashMachineID(hostID string) string {
	sum := sha256.Sum256([]byte("ldgate-seat:" + hostID))
	return hex.EncodeToString(sum[:16])
}
