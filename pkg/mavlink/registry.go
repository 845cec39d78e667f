package mavlink

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownMessage is returned when an operation needs message metadata that
// has not been registered.
var ErrUnknownMessage = errors.New("mavlink: unknown message id")

// MessageInfo describes a message well enough to validate and encode its frames.
type MessageInfo struct {
	ID       uint32
	Name     string
	CRCExtra byte
	// MinLen is the payload length before v2 trailing-zero truncation.
	MinLen int
}

const (
	MsgIDHeartbeat uint32 = 0

	heartbeatPayloadLen = 9
)

var (
	registryMu sync.RWMutex
	registry   = map[uint32]MessageInfo{}
)

func init() {
	for _, info := range commonMessages {
		registry[info.ID] = info
	}
}

// A subset of common.xml. Anything else is framed and passed through opaque.
var commonMessages = []MessageInfo{
	{ID: MsgIDHeartbeat, Name: "HEARTBEAT", CRCExtra: 50, MinLen: heartbeatPayloadLen},
	{ID: 1, Name: "SYS_STATUS", CRCExtra: 124, MinLen: 31},
	{ID: 2, Name: "SYSTEM_TIME", CRCExtra: 137, MinLen: 12},
	{ID: 4, Name: "PING", CRCExtra: 237, MinLen: 14},
	{ID: 22, Name: "PARAM_VALUE", CRCExtra: 220, MinLen: 25},
	{ID: 24, Name: "GPS_RAW_INT", CRCExtra: 24, MinLen: 30},
	{ID: 30, Name: "ATTITUDE", CRCExtra: 39, MinLen: 28},
	{ID: 33, Name: "GLOBAL_POSITION_INT", CRCExtra: 104, MinLen: 28},
	{ID: 74, Name: "VFR_HUD", CRCExtra: 20, MinLen: 20},
	{ID: 76, Name: "COMMAND_LONG", CRCExtra: 152, MinLen: 33},
	{ID: 77, Name: "COMMAND_ACK", CRCExtra: 143, MinLen: 3},
	{ID: 147, Name: "BATTERY_STATUS", CRCExtra: 154, MinLen: 36},
	{ID: 253, Name: "STATUSTEXT", CRCExtra: 83, MinLen: 51},
}

// Register adds or replaces message metadata, e.g. for a custom dialect.
func Register(info MessageInfo) error {
	if info.ID > 0xFFFFFF {
		return fmt.Errorf("message id %d exceeds 24 bits", info.ID)
	}
	if info.MinLen < 0 || info.MinLen > MaxPayloadLen {
		return fmt.Errorf("message %d has invalid length %d", info.ID, info.MinLen)
	}
	registryMu.Lock()
	registry[info.ID] = info
	registryMu.Unlock()
	return nil
}

// Lookup returns metadata for a message id.
func Lookup(id uint32) (MessageInfo, bool) {
	registryMu.RLock()
	info, ok := registry[id]
	registryMu.RUnlock()
	return info, ok
}

// MessageName returns the registered name or a numeric placeholder.
func MessageName(id uint32) string {
	if info, ok := Lookup(id); ok {
		return info.Name
	}
	return fmt.Sprintf("MSG_%d", id)
}
