// Package protocol defines the JSON events exchanged with browser clients
// over the websocket, plus the base64 PCM codec both directions share.
package protocol

import (
	"encoding/base64"
	"fmt"
)

// Event types used by the websocket protocol.
const (
	TypeConnected         = "connected"
	TypeConfig            = "config"
	TypeAudioFromClubdeck = "audio_from_clubdeck"
	TypeGetConfig         = "get_config"
	TypeAudioData         = "audio_data"
	TypeJoinRoom          = "join_room"
	TypeLeaveRoom         = "leave_room"
	TypeError             = "error"
)

// Event is the JSON envelope exchanged over websocket.
type Event struct {
	Type       string `json:"type"`
	ClientID   string `json:"client_id,omitempty"`
	DuplexMode string `json:"duplex_mode,omitempty"`
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Room       string `json:"room,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EncodePCM encodes interleaved int16 samples as base64 of their
// little-endian byte representation, the wire form browsers consume.
func EncodePCM(samples []int16) string {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		raw[2*i] = byte(s)
		raw[2*i+1] = byte(uint16(s) >> 8)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodePCM reverses EncodePCM. An odd byte count or invalid base64 is a
// protocol error from the client and reported as such.
func DecodePCM(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode audio payload: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("protocol: audio payload has odd length %d", len(raw))
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return samples, nil
}
