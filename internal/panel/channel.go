// Package panel implements the settings panel: the message channel spoken
// by every panel surface, and the HTTP server hosting the browser panel.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dynatheme/internal/notify"
	"dynatheme/internal/settings"
	logx "dynatheme/pkg/logx"
)

// Message commands.
const (
	CmdLoadSettings   = "loadSettings"
	CmdSaveSettings   = "saveSettings"
	CmdUpdateSettings = "updateSettings"
)

// ErrMalformed is returned by HandleJSON for a body that is not a message.
var ErrMalformed = errors.New("malformed panel message")

// Message is one panel message in either direction. The settings fields are
// only meaningful for saveSettings and updateSettings.
type Message struct {
	Command string `json:"command"`
	settings.Record
}

// Channel answers panel messages against the settings store.
type Channel struct {
	store    settings.Store
	notifier notify.Notifier
	log      logx.Logger
}

func NewChannel(store settings.Store, n notify.Notifier, log logx.Logger) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{store: store, notifier: n, log: log.With(logx.String("comp", "panel"))}
}

// Handle processes one inbound message. It returns the reply to post back,
// or nil when the message has none. Unknown commands are ignored.
func (c *Channel) Handle(ctx context.Context, msg Message) (*Message, error) {
	switch msg.Command {
	case CmdLoadSettings:
		rec, err := settings.Read(ctx, c.store)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		return &Message{Command: CmdUpdateSettings, Record: rec}, nil

	case CmdSaveSettings:
		if err := settings.Save(ctx, c.store, msg.Record); err != nil {
			c.notifier.Error("Failed to save settings: " + err.Error())
			return nil, fmt.Errorf("save settings: %w", err)
		}
		c.log.Info("settings saved",
			logx.String("day", msg.DayTime+" "+msg.DayTheme),
			logx.String("night", msg.NightTime+" "+msg.NightTheme),
			logx.Bool("zen_override", msg.ZenModeEnabled),
		)
		return nil, nil

	default:
		c.log.Debug("ignoring panel message", logx.String("command", msg.Command))
		return nil, nil
	}
}

// HandleJSON decodes one wire message and passes it to Handle. Only the
// command is decoded up front, so an unknown command is ignored whatever its
// other fields hold.
func (c *Channel) HandleJSON(ctx context.Context, raw []byte) (*Message, error) {
	var head struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	switch head.Command {
	case CmdLoadSettings, CmdSaveSettings:
	default:
		c.log.Debug("ignoring panel message", logx.String("command", head.Command))
		return nil, nil
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, head.Command, err)
	}
	return c.Handle(ctx, msg)
}
