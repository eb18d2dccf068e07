package taskwiresdk

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal Taskwire websocket client.
type Client struct {
	URL     string
	Token   string
	Timeout time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex
	inbox   chan Message
	readErr error
	once    sync.Once
}

// Message is the wire envelope in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Task mirrors the server's task record.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Project     string `json:"project,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   int64  `json:"started_at"`
	CurrentAt   int64  `json:"current_at"`
	PausedAt    int64  `json:"paused_at"`
	CompletedAt int64  `json:"completed_at"`
	Elapsed     int64  `json:"elapsed"`
}

// APIError wraps an error envelope from the server.
type APIError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: code=%s message=%s", e.Code, e.Message)
}

// Dial connects to a ws:// or wss:// endpoint and starts the read loop.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		URL:     url,
		Timeout: 10 * time.Second,
		conn:    conn,
		inbox:   make(chan Message, 64),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.readErr = err
			return
		}
		c.inbox <- msg
	}
}

// Next returns the next inbound event, such as a broadcast triggered by
// another connection of the same identity.
func (c *Client) Next(timeout time.Duration) (Message, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return Message{}, fmt.Errorf("connection closed: %v", c.readErr)
		}
		return msg, nil
	case <-time.After(timeout):
		return Message{}, fmt.Errorf("timed out waiting for event")
	}
}

// Register creates a new identity and keeps the returned token on the client.
func (c *Client) Register(username, password, secret string) (string, error) {
	err := c.send("register", map[string]any{
		"username": username,
		"password": password,
		"secret":   secret,
	})
	if err != nil {
		return "", err
	}
	return c.awaitToken("registered")
}

// Login resolves credentials and keeps the returned token on the client.
func (c *Client) Login(username, password string) (string, error) {
	err := c.send("login", map[string]any{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	return c.awaitToken("loggedin")
}

// Logout detaches this connection from its identity.
func (c *Client) Logout() error {
	if err := c.send("logout", nil); err != nil {
		return err
	}
	_, err := c.await("loggedout")
	return err
}

// Ping checks liveness.
func (c *Client) Ping() error {
	if err := c.send("ping", nil); err != nil {
		return err
	}
	_, err := c.await("pong")
	return err
}

// List fetches every task of the authenticated identity.
func (c *Client) List() ([]Task, error) {
	if err := c.send("list", map[string]any{"token": c.Token}); err != nil {
		return nil, err
	}
	msg, err := c.await("list")
	if err != nil {
		return nil, err
	}
	var body struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

// CreateTask creates a task and returns the broadcast record.
func (c *Client) CreateTask(name, project string, priority int) (Task, error) {
	err := c.send("create", map[string]any{
		"token": c.Token,
		"task":  map[string]any{"name": name, "project": project, "priority": priority},
	})
	if err != nil {
		return Task{}, err
	}
	return c.awaitTask("created")
}

// Start begins a task. Starting a completed task yields a fresh copy, so the
// reply may be a created record rather than an update.
func (c *Client) Start(taskID string) (Task, error) {
	if err := c.sendTask("start", taskID); err != nil {
		return Task{}, err
	}
	return c.awaitTask("updated", "created")
}

// Pause suspends a running task.
func (c *Client) Pause(taskID string) (Task, error) {
	if err := c.sendTask("pause", taskID); err != nil {
		return Task{}, err
	}
	return c.awaitTask("updated")
}

// Resume reopens a paused task.
func (c *Client) Resume(taskID string) (Task, error) {
	if err := c.sendTask("resume", taskID); err != nil {
		return Task{}, err
	}
	return c.awaitTask("updated")
}

// Restart puts a completed task back into a freshly started state.
func (c *Client) Restart(taskID string) (Task, error) {
	if err := c.sendTask("restart", taskID); err != nil {
		return Task{}, err
	}
	return c.awaitTask("updated")
}

// Complete closes a task's lifecycle.
func (c *Client) Complete(taskID string) (Task, error) {
	if err := c.sendTask("complete", taskID); err != nil {
		return Task{}, err
	}
	return c.awaitTask("updated")
}

// Copy duplicates a task into a fresh unstarted record.
func (c *Client) Copy(taskID string) (Task, error) {
	if err := c.sendTask("copy", taskID); err != nil {
		return Task{}, err
	}
	return c.awaitTask("created")
}

// Delete removes a task; deleting an absent id still succeeds.
func (c *Client) Delete(taskID string) error {
	if err := c.sendTask("delete", taskID); err != nil {
		return err
	}
	_, err := c.await("deleted")
	return err
}

// UpdateName renames a task.
func (c *Client) UpdateName(taskID, name string) (Task, error) {
	err := c.send("updateName", map[string]any{
		"token": c.Token,
		"task":  map[string]any{"id": taskID, "name": name},
	})
	if err != nil {
		return Task{}, err
	}
	return c.awaitTask("updated")
}

// UpdatePriority changes a task's ordering hint.
func (c *Client) UpdatePriority(taskID string, priority int) (Task, error) {
	err := c.send("updatePriority", map[string]any{
		"token": c.Token,
		"task":  map[string]any{"id": taskID, "priority": priority},
	})
	if err != nil {
		return Task{}, err
	}
	return c.awaitTask("updated")
}

func (c *Client) sendTask(msgType, taskID string) error {
	return c.send(msgType, map[string]any{
		"token": c.Token,
		"task":  map[string]any{"id": taskID},
	})
}

func (c *Client) send(msgType string, data any) error {
	msg := Message{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = raw
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// await blocks until a message of one of the wanted types (or an error
// envelope) arrives. Unrelated broadcasts received in between are dropped;
// use Next to observe the full stream instead.
func (c *Client) await(types ...string) (Message, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-c.inbox:
			if !ok {
				return Message{}, fmt.Errorf("connection closed: %v", c.readErr)
			}
			if msg.Type == "error" {
				var apiErr APIError
				_ = json.Unmarshal(msg.Data, &apiErr)
				return Message{}, &apiErr
			}
			for _, t := range types {
				if msg.Type == t {
					return msg, nil
				}
			}
		case <-deadline:
			return Message{}, fmt.Errorf("timed out waiting for %v", types)
		}
	}
}

func (c *Client) awaitToken(msgType string) (string, error) {
	msg, err := c.await(msgType)
	if err != nil {
		return "", err
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return "", err
	}
	c.Token = body.Token
	return body.Token, nil
}

func (c *Client) awaitTask(types ...string) (Task, error) {
	msg, err := c.await(types...)
	if err != nil {
		return Task{}, err
	}
	var body struct {
		Task Task `json:"task"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		return Task{}, err
	}
	return body.Task, nil
}
