package scanner

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Service QNames (spec §6).
const (
	OperationalServiceQName    = "_matter._tcp.local"
	CommissionableServiceQName = "_matterc._udp.local"
)

// AnyCommissioningModeKey is the internal query id sentinel for "any
// commissioning device" (wire sub-service `_CM._sub._matterc._udp.local`).
const AnyCommissioningModeKey = "_CM"

// OperationalQName builds the fully-qualified Matter operational service
// instance name for a (operational-id, node-id) pair: 16 uppercase hex
// digits each, joined by a dash.
func OperationalQName(operationalID, nodeID []byte) string {
	return fmt.Sprintf("%s-%s.%s",
		strings.ToUpper(hex.EncodeToString(operationalID)),
		strings.ToUpper(hex.EncodeToString(nodeID)),
		OperationalServiceQName)
}

// instanceSubQName is the sub-service PTR name for a specific instance id
// filter.
func instanceSubQName(instanceID string) string {
	return fmt.Sprintf("%s.%s", instanceID, CommissionableServiceQName)
}

func longDiscriminatorKey(d uint16) string  { return fmt.Sprintf("_L%d", d) }
func shortDiscriminatorKey(sd uint8) string { return fmt.Sprintf("_S%d", sd) }
func vendorKey(v uint16) string             { return fmt.Sprintf("_V%d", v) }
func deviceTypeKey(dt uint32) string        { return fmt.Sprintf("_T%d", dt) }
func vendorProductKey(v, p uint16) string   { return fmt.Sprintf("_VP%d+%d", v, p) }
func productKey(p uint16) string            { return fmt.Sprintf("_P%d", p) }

func subServiceQName(key string) string {
	return fmt.Sprintf("%s._sub.%s", key, CommissionableServiceQName)
}
