package model

// Client-to-provider frames for the realtime session protocol.

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Model             string        `json:"model"`
	Voice             string        `json:"voice"`
	Instructions      string        `json:"instructions"`
	Modalities        []string      `json:"modalities"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	TurnDetection     turnDetection `json:"turn_detection"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type itemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type responseCancel struct {
	Type string `json:"type"`
}

// ServerMessage is one decoded provider frame: incremental text and/or
// audio with a last flag, or a terminal end/error marker.
type ServerMessage struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	Audio         string `json:"audio,omitempty"`
	Format        string `json:"format,omitempty"`
	Last          bool   `json:"last,omitempty"`
	Interruptible *bool  `json:"interruptible,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Terminal reports whether the message ends the provider session.
func (m ServerMessage) Terminal() bool {
	return m.Type == "end" || m.Type == "error"
}
