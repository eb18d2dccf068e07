package server

import (
	"encoding/json"
	"errors"

	"taskwire/internal/domain"
	"taskwire/internal/identity"
	"taskwire/internal/store"
)

// eventData is the inbound data payload. Fields are optional per command;
// the dispatcher enforces what each command requires.
type eventData struct {
	Username string       `json:"username,omitempty"`
	Password string       `json:"password,omitempty"`
	Secret   string       `json:"secret,omitempty"`
	Token    string       `json:"token,omitempty"`
	Task     *taskPayload `json:"task,omitempty"`
}

type taskPayload struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Project  string `json:"project,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func envelope(msgType string, data any) domain.Message {
	raw, _ := json.Marshal(data)
	return domain.Message{Type: msgType, Data: raw}
}

func tokenReply(msgType, token string) domain.Message {
	return envelope(msgType, map[string]string{"token": token})
}

func listReply(tasks []domain.Task) domain.Message {
	return envelope("list", map[string][]domain.Task{"tasks": tasks})
}

func errorReply(code, message string) domain.Message {
	return envelope("error", errorBody{Error: code, Message: message})
}

// payloadError echoes an unroutable event back to the sender only.
func payloadError(raw []byte) domain.Message {
	return envelope("error", errorBody{Error: "payload", Message: "unsupported payload: " + string(raw)})
}

// replyError maps the error taxonomy onto wire error codes. Nothing here is
// ever broadcast; errors go to the originating connection only.
func replyError(err error) domain.Message {
	switch {
	case errors.Is(err, identity.ErrInvalidSecret):
		return errorReply("registration", "Wrong secret provided!")
	case errors.Is(err, identity.ErrAlreadyExists):
		return errorReply("registration", "User already exists!")
	case errors.Is(err, identity.ErrNotFound):
		return errorReply("login", "Wrong credentials!")
	case errors.Is(err, store.ErrNotFound):
		return errorReply("task", "Task not found!")
	default:
		return errorReply("internal", err.Error())
	}
}
