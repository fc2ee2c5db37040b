package network

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is bumped whenever a payload changes incompatibly.
const ProtocolVersion = 1

type MessageType string

const (
	MessageHello       MessageType = "hello"
	MessageWelcome     MessageType = "welcome"
	MessageViewpoint   MessageType = "viewpoint"
	MessageFrame       MessageType = "frame"
	MessageChunkUpdate MessageType = "chunkUpdate"
	MessageKeepAlive   MessageType = "keepAlive"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

// Coord is a grid offset on the wire.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Hello must be the first message a client sends.
type Hello struct {
	Client  string `json:"client"`
	Version int    `json:"version"`
}

type Welcome struct {
	SessionID  string `json:"sessionId"`
	ServerID   string `json:"serverId"`
	Version    int    `json:"version"`
	Resolution int    `json:"resolution"`
	ChunkCount int    `json:"chunkCount"`
	Centroid   Coord  `json:"centroid"`
	Frame      uint64 `json:"frame"`
}

// Viewpoint moves the streaming centre. Coordinates are in chunk units.
type Viewpoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is broadcast once per engine step.
type Frame struct {
	Number       uint64  `json:"number"`
	Centroid     Coord   `json:"centroid"`
	Recentered   bool    `json:"recentered"`
	Ready        int     `json:"ready"`
	Pending      int     `json:"pending"`
	Recomputed   int     `json:"recomputed"`
	Cached       int     `json:"cached"`
	MinElevation float32 `json:"minElevation"`
	MaxElevation float32 `json:"maxElevation"`
}

// ChunkUpdate carries the heights of one recomputed slot. Heights holds a
// zstd compressed tile as produced by world.EncodeTile.
type ChunkUpdate struct {
	Frame      uint64 `json:"frame"`
	Slot       int    `json:"slot"`
	Offset     Coord  `json:"offset"`
	Resolution int    `json:"resolution"`
	Heights    []byte `json:"heights"`
}

type KeepAlive struct {
	ServerID string    `json:"serverId"`
	Time     time.Time `json:"time"`
}

func Encode(msg Envelope) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// DecodePayload unmarshals the payload of env into v.
func DecodePayload(env Envelope, v any) error {
	return json.Unmarshal(env.Payload, v)
}
