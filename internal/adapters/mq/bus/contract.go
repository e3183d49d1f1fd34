// Package bus carries per-recipient notifications from the ranking side to the
// processes holding client connections.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/okian/ladder/internal/domain/model"
)

// Contract names the channel and payload version both sides agree on.
type Contract struct {
	Topic   string
	Version int
}

// ScoreUpdates is the contract of the score update channel. Publishers and
// subscribers must both use it; Probe checks it at startup.
var ScoreUpdates = Contract{Topic: "user_score_updates", Version: 1}

// envelope is the wire form of one message. Key is the recipient user id.
type envelope struct {
	Topic        string             `json:"topic"`
	Version      int                `json:"version"`
	Key          string             `json:"key"`
	Notification model.Notification `json:"notification"`
}

func (c Contract) seal(n model.Notification) envelope {
	n.Version = c.Version
	return envelope{Topic: c.Topic, Version: c.Version, Key: n.UserID, Notification: n}
}

func (c Contract) open(e envelope) (model.Notification, error) {
	if e.Topic != c.Topic || e.Version != c.Version {
		return model.Notification{}, fmt.Errorf("%w: got %s/v%d, want %s/v%d",
			ErrContractMismatch, e.Topic, e.Version, c.Topic, c.Version)
	}
	return e.Notification, nil
}

func (c Contract) encode(n model.Notification) ([]byte, error) {
	return json.Marshal(c.seal(n))
}

func (c Contract) decode(raw []byte) (model.Notification, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.Notification{}, fmt.Errorf("decode %s message: %w", c.Topic, err)
	}
	return c.open(e)
}
