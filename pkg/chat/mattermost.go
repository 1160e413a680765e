package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
)

const eventQueueSize = 64

// MattermostOptions configures the Mattermost connection.
type MattermostOptions struct {
	ServerURL string
	Token     string
	Log       *slog.Logger
}

// Mattermost is a chat connector backed by the Mattermost REST API and
// websocket event stream.
type Mattermost struct {
	opts   MattermostOptions
	log    *slog.Logger
	client *model.Client4
	ws     *model.WebSocketClient
	events chan Message
	userID string

	stopChan chan struct{}
	stopOnce sync.Once
}

var _ Connector = (*Mattermost)(nil)

// NewMattermost builds a Mattermost connector. Connect must be called before
// events flow.
func NewMattermost(opts MattermostOptions) *Mattermost {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	client := model.NewAPIv4Client(opts.ServerURL)
	client.SetToken(opts.Token)
	return &Mattermost{
		opts:     opts,
		log:      opts.Log,
		client:   client,
		events:   make(chan Message, eventQueueSize),
		stopChan: make(chan struct{}),
	}
}

// Connect verifies the session and starts the websocket event loop.
func (m *Mattermost) Connect(ctx context.Context) error {
	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("mattermost session check: %w", err)
	}
	m.userID = me.Id
	m.log.Info("authenticated to chat service", "user_id", me.Id, "username", me.Username)

	if err := m.connectWebSocket(); err != nil {
		return err
	}
	go m.listen(ctx)
	return nil
}

func (m *Mattermost) connectWebSocket() error {
	ws, err := model.NewWebSocketClient4(httpToWS(m.opts.ServerURL), m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	ws.Listen()
	m.ws = ws
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (m *Mattermost) listen(ctx context.Context) {
	for {
		select {
		case <-m.stopChan:
			return
		case evt, ok := <-m.ws.EventChannel:
			if !ok {
				m.log.Warn("chat websocket closed, reconnecting")
				if err := m.connectWebSocket(); err != nil {
					m.log.Error("chat websocket reconnect failed", "error", err)
					return
				}
				continue
			}
			if evt == nil || evt.EventType() != model.WebsocketEventPosted {
				continue
			}
			m.handlePosted(ctx, evt)
		}
	}
}

func (m *Mattermost) handlePosted(ctx context.Context, evt *model.WebSocketEvent) {
	post, err := parsePostedData(evt.GetData(), m.userID)
	if err != nil {
		m.log.Debug("ignoring malformed posted event", "error", err)
		return
	}
	if post == nil {
		return
	}

	msg := Message{
		RoomID:     post.ChannelId,
		SenderName: m.senderName(ctx, post.UserId),
		Text:       post.Message,
	}

	select {
	case m.events <- msg:
	default:
		m.log.Warn("chat event queue full, dropping message", "room", msg.RoomID)
	}
}

// parsePostedData extracts the post from a posted event's data. Returns
// (nil, nil) when the post should be skipped: our own posts (echo
// prevention) and non-default post types (system messages).
func parsePostedData(data map[string]any, selfUserID string) (*model.Post, error) {
	postJSON, ok := data["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	if post.UserId == selfUserID {
		return nil, nil
	}
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	return &post, nil
}

func (m *Mattermost) senderName(ctx context.Context, userID string) string {
	user, _, err := m.client.GetUser(ctx, userID, "")
	if err != nil || user == nil {
		m.log.Debug("failed to resolve chat sender", "user_id", userID, "error", err)
		return userID
	}
	return displayName(user.FirstName, user.LastName, user.Username)
}

// displayName joins first and last name with a single space when both are
// present, falling back to the username.
func displayName(first, last, username string) string {
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	default:
		return username
	}
}

// Events returns the serialized inbound message stream.
func (m *Mattermost) Events() <-chan Message {
	return m.events
}

// SendMessage posts text to a room.
func (m *Mattermost) SendMessage(roomID, text string) error {
	post := &model.Post{
		ChannelId: roomID,
		Message:   text,
	}
	_, _, err := m.client.CreatePost(context.Background(), post)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// Close stops the event loop and websocket.
func (m *Mattermost) Close() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	if m.ws != nil {
		m.ws.Close()
	}
}
