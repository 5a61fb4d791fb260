package registry

import (
	"sync"
	"time"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Rough per-character rate used for the running cost estimate shown on
// the dashboard; real billing happens elsewhere.
const costPerAssistantChar = 0.000024

// Call is the mutable per-call record. Counters are bumped by the relay
// and by override handlers, so all access goes through the mutex.
type Call struct {
	mu sync.Mutex

	sid          string
	direction    Direction
	from, to     string
	instructions string
	voice        string

	status    Status
	startedAt time.Time
	endedAt   time.Time

	transcripts int
	commands    int
	overrides   int
	costUSD     float64
}

func NewCall(sid string, direction Direction, from, to, instructions, voice string) *Call {
	return &Call{
		sid:          sid,
		direction:    direction,
		from:         from,
		to:           to,
		instructions: instructions,
		voice:        voice,
		status:       StatusInitiated,
		startedAt:    time.Now().UTC(),
	}
}

func (c *Call) MarkActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusInitiated {
		c.status = StatusActive
	}
}

// MarkEnded is idempotent; the first terminal status wins.
func (c *Call) MarkEnded(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusCompleted || c.status == StatusFailed {
		return
	}
	c.status = status
	c.endedAt = time.Now().UTC()
}

func (c *Call) AddTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts++
}

func (c *Call) AddCommand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands++
}

func (c *Call) AddOverride() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides++
}

// AddAssistantChars accumulates the cost estimate for generated output.
func (c *Call) AddAssistantChars(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.costUSD += float64(n) * costPerAssistantChar
}

// Info is an immutable snapshot of the call record.
type Info struct {
	CallSid      string    `json:"callSid"`
	Direction    Direction `json:"direction"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt,omitzero"`
	Instructions string    `json:"instructions,omitempty"`
	Voice        string    `json:"voice,omitempty"`
	Transcripts  int       `json:"transcripts"`
	Commands     int       `json:"commands"`
	Overrides    int       `json:"overrides"`
	CostUSD      float64   `json:"costUsd"`
}

func (c *Call) Snapshot() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		CallSid:      c.sid,
		Direction:    c.direction,
		From:         c.from,
		To:           c.to,
		Status:       c.status,
		StartedAt:    c.startedAt,
		EndedAt:      c.endedAt,
		Instructions: c.instructions,
		Voice:        c.voice,
		Transcripts:  c.transcripts,
		Commands:     c.commands,
		Overrides:    c.overrides,
		CostUSD:      c.costUSD,
	}
}
