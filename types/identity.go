package types

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	imos "github.com/intermap/intermap/libs/os"
	imsync "github.com/intermap/intermap/libs/sync"
)

// ProtocolVersion gates messages on the shared channels: anything published
// by a different protocol generation is ignored.
const ProtocolVersion = "intermap-v1"

// NodeIdentity identifies this process on the network. The node ID is fixed
// for the process lifetime; the external address may change underneath us
// (see the mobility monitor).
type NodeIdentity struct {
	NodeID    string
	StartedAt time.Time

	mtx        imsync.RWMutex
	externalIP netip.Addr
}

// NewNodeIdentity returns an identity with the given ID, started now.
func NewNodeIdentity(nodeID string) *NodeIdentity {
	return &NodeIdentity{
		NodeID:    nodeID,
		StartedAt: time.Now(),
	}
}

// ExternalIP returns the last known external address. The zero Addr means the
// address has not been detected yet.
func (id *NodeIdentity) ExternalIP() netip.Addr {
	id.mtx.RLock()
	defer id.mtx.RUnlock()
	return id.externalIP
}

// SetExternalIP records a new external address.
func (id *NodeIdentity) SetExternalIP(ip netip.Addr) {
	id.mtx.Lock()
	defer id.mtx.Unlock()
	id.externalIP = ip
}

func (id *NodeIdentity) String() string {
	return id.NodeID
}

// GenerateNodeID returns a fresh opaque node identifier.
func GenerateNodeID() string {
	return "node-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// LoadOrGenNodeID reads the node ID from filePath, generating and persisting
// a new one if the file does not exist.
func LoadOrGenNodeID(filePath string) (string, error) {
	if imos.FileExists(filePath) {
		raw, err := imos.ReadFile(filePath)
		if err != nil {
			return "", err
		}
		nodeID := strings.TrimSpace(string(raw))
		if nodeID == "" {
			return "", fmt.Errorf("node ID file %q is empty", filePath)
		}
		return nodeID, nil
	}

	nodeID := GenerateNodeID()
	if err := imos.WriteFile(filePath, []byte(nodeID+"\n"), 0o600); err != nil {
		return "", err
	}
	return nodeID, nil
}
