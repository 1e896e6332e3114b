// Package checkpoint serializes wallet balances and per-agent adaptive
// state so a restarted process can pick up where the previous one stopped.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/patrickgrad/coin-trader/agent"
)

type WalletEntry struct {
	Available float64 `json:"available"`
	Hold      float64 `json:"hold"`
}

type Snapshot struct {
	SavedAt time.Time              `json:"saved_at"`
	Wallet  map[string]WalletEntry `json:"wallet"`
	Agents  map[string]agent.State `json:"agents"`
}

func NewSnapshot() Snapshot {
	return Snapshot{
		SavedAt: time.Now(),
		Wallet:  make(map[string]WalletEntry),
		Agents:  make(map[string]agent.State),
	}
}

// AgentKey names an agent's slot in the snapshot.
func AgentKey(productID, side string) string {
	return productID + "/" + side
}

// Save writes the snapshot atomically: a torn write on a crashing box must
// not destroy the previous good checkpoint.
func Save(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a snapshot written by Save.
func Load(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, nil
}
