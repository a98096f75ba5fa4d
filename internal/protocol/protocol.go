package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	"territorybeacons.dev/internal/sim/events"
	"territorybeacons.dev/internal/sim/territory"
)

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCmd     = "CMD"
	TypeResult  = "RESULT"
	TypeEvent   = "EVENT"
	TypeCall    = "CALL"
	TypeReply   = "REPLY"
)

// Host commands.
const (
	OpPlaceBeacon   = "PLACE_BEACON"
	OpCreate        = "CREATE"
	OpUpgrade       = "UPGRADE"
	OpDelete        = "DELETE"
	OpBreakBeacon   = "BREAK_BEACON"
	OpBuild         = "BUILD"
	OpBreak         = "BREAK"
	OpInteract      = "INTERACT"
	OpExplode       = "EXPLODE"
	OpPvP           = "PVP"
	OpMobSpawn      = "MOB_SPAWN"
	OpTrust         = "TRUST"
	OpUntrust       = "UNTRUST"
	OpRename        = "RENAME"
	OpUnlockFeature = "UNLOCK_FEATURE"
	OpToggleFeature = "TOGGLE_FEATURE"
	OpSetPvP        = "SET_PVP"
	OpSetMobs       = "SET_MOBS"
	OpJoin          = "JOIN"
	OpQuit          = "QUIT"
	OpMove          = "MOVE"
	OpInfo          = "INFO"
	OpList          = "LIST"
	OpReload        = "RELOAD"
)

// Calls from the service to the host.
const (
	MethodTopmostSurface = "world.topmost_surface"
	MethodIsSolidSupport = "world.is_solid_support"
	MethodIsEmpty        = "world.is_empty"
	MethodPlaceMarker    = "world.place_marker"
	MethodClearMarker    = "world.clear_marker"
	MethodRemoveBlock    = "world.remove_block"
	MethodDropItem       = "world.drop_item"
	MethodHasFunds       = "pay.has_funds"
	MethodWithdraw       = "pay.withdraw"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HostName        string `json:"host_name"`
	Token           string `json:"token,omitempty"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	HostID          string `json:"host_id"`
	ServerTimeMs    int64  `json:"server_time_ms"`
}

type CmdMsg struct {
	Type string  `json:"type"`
	ID   string  `json:"id"`
	Op   string  `json:"op"`
	Args CmdArgs `json:"args"`
}

// CmdArgs is the union of every command's arguments; each op reads the
// fields it needs.
type CmdArgs struct {
	Player     uuid.UUID            `json:"player"`
	PlayerName string               `json:"player_name,omitempty"`
	Admin      bool                 `json:"admin,omitempty"`
	At         *territory.Location  `json:"at,omitempty"`
	Pos        *territory.Point     `json:"pos,omitempty"`
	Target     *uuid.UUID           `json:"target,omitempty"`
	TargetName string               `json:"target_name,omitempty"`
	Tier       int                  `json:"tier,omitempty"`
	Name       string               `json:"name,omitempty"`
	Feature    string               `json:"feature,omitempty"`
	Enabled    *bool                `json:"enabled,omitempty"`
	Container  bool                 `json:"container,omitempty"`
	Blocks     []territory.Location `json:"blocks,omitempty"`
}

// ResultMsg answers a CMD. Detail is diagnostic key=value text; hosts pick
// player-facing wording from Code.
type ResultMsg struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type EventMsg struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

type CallMsg struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type ReplyMsg struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Call parameter shapes.
type ColumnParams struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Z     int    `json:"z"`
}

type BlockParams struct {
	At territory.Location `json:"at"`
}

type DropParams struct {
	At   territory.Location `json:"at"`
	Item string             `json:"item"`
}

type FundsParams struct {
	Player   uuid.UUID `json:"player"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
}
