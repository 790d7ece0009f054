package session

import (
	"errors"

	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/topic"
	"github.com/ehrlich-b/clicker/internal/wire"
)

// Client is the presenter-remote role. It announces its presence on the
// room status topic, registers a "connection_lost" last will, and sends
// navigation commands.
type Client struct {
	*Session
}

// NewClient creates a client session for user. The broker settings are
// read from cfg once; a changed config takes effect on a new Client.
func NewClient(cfg *config.Config, user string, opts Options) (*Client, error) {
	if user == "" {
		return nil, errors.New("user name is required")
	}
	return &Client{Session: newSession(cfg, user, opts)}, nil
}

// User returns the display name this client announces.
func (c *Client) User() string { return c.user }

// PublishAction sends a navigation command to the room.
func (c *Client) PublishAction(a wire.Action) error {
	return c.publish(topic.Presentation, wire.Command{User: c.user, Action: a}, false)
}

// PublishStatus sends a retained presence update for this client.
func (c *Client) PublishStatus(st wire.Status) error {
	return c.publish(topic.Status, wire.Presence{User: c.user, Status: st}, true)
}
