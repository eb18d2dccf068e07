package server

import (
	"encoding/json"
	"log"
	"strings"

	"taskwire/internal/domain"
	"taskwire/internal/engine"
	"taskwire/internal/identity"
	"taskwire/internal/registry"
)

// Command is the fixed inbound command set. Keeping it a closed enum makes
// the routing switch exhaustive; a new command is a compile-time addition.
type Command int

const (
	CmdUnknown Command = iota
	CmdPing
	CmdRegister
	CmdLogin
	CmdLogout
	CmdList
	CmdCreate
	CmdUpdateName
	CmdUpdatePriority
	CmdDelete
	CmdStart
	CmdPause
	CmdResume
	CmdRestart
	CmdComplete
	CmdCopy
)

func parseCommand(s string) Command {
	switch s {
	case "ping":
		return CmdPing
	case "register":
		return CmdRegister
	case "login":
		return CmdLogin
	case "logout":
		return CmdLogout
	case "list":
		return CmdList
	case "create":
		return CmdCreate
	case "updateName":
		return CmdUpdateName
	case "updatePriority":
		return CmdUpdatePriority
	case "delete":
		return CmdDelete
	case "start":
		return CmdStart
	case "pause":
		return CmdPause
	case "resume":
		return CmdResume
	case "restart":
		return CmdRestart
	case "complete":
		return CmdComplete
	case "copy":
		return CmdCopy
	default:
		return CmdUnknown
	}
}

// Dispatcher authenticates inbound events and routes them to the identity
// service or the lifecycle engine.
type Dispatcher struct {
	Identity identity.Service
	Engine   engine.Engine
	Registry *registry.Registry
	Log      *log.Logger
}

// Dispatch handles one raw inbound payload from a connection. A payload that
// fails structured parsing is treated as a bare command name with empty data,
// tolerating plain-text control pings. Errors degrade to a reply; nothing
// here is fatal to the process.
func (d Dispatcher) Dispatch(conn registry.Conn, raw []byte) {
	var msg domain.Message
	var data eventData
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		msg = domain.Message{Type: strings.TrimSpace(string(raw))}
	} else if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			data = eventData{}
		}
	}

	cmd := parseCommand(msg.Type)
	switch cmd {
	case CmdPing:
		d.send(conn, envelope("pong", struct{}{}))
		return
	case CmdRegister:
		token, err := d.Identity.Register(data.Username, data.Password, data.Secret)
		if err != nil {
			d.send(conn, replyError(err))
			return
		}
		d.Registry.Associate(token, conn)
		d.send(conn, tokenReply("registered", token))
		return
	case CmdLogin:
		token, err := d.Identity.Login(data.Username, data.Password)
		if err != nil {
			d.send(conn, replyError(err))
			return
		}
		d.Registry.Associate(token, conn)
		d.send(conn, tokenReply("loggedin", token))
		return
	case CmdLogout:
		d.Registry.Disassociate(conn)
		d.send(conn, envelope("loggedout", struct{}{}))
		return
	}

	// Everything below requires a bearer token; tokens are trusted as
	// presented. A missing token tears the connection out of the registry.
	if data.Token == "" {
		d.send(conn, errorReply("unauthorized", "Please login!"))
		d.Registry.Disassociate(conn)
		return
	}
	d.Registry.Associate(data.Token, conn)

	switch cmd {
	case CmdList:
		tasks, err := d.Engine.List(data.Token)
		if err != nil {
			d.send(conn, replyError(err))
			return
		}
		d.send(conn, listReply(tasks))
	case CmdCreate:
		if data.Task == nil || data.Task.Name == "" {
			d.send(conn, payloadError(raw))
			return
		}
		if _, err := d.Engine.Create(data.Token, engine.CreateOptions{
			Name:     data.Task.Name,
			Project:  data.Task.Project,
			Priority: data.Task.Priority,
		}); err != nil {
			d.send(conn, replyError(err))
		}
	case CmdUpdateName:
		if data.Task == nil || data.Task.ID == "" || data.Task.Name == "" {
			d.send(conn, payloadError(raw))
			return
		}
		if _, err := d.Engine.Rename(data.Token, data.Task.ID, data.Task.Name); err != nil {
			d.send(conn, replyError(err))
		}
	case CmdUpdatePriority:
		if data.Task == nil || data.Task.ID == "" {
			d.send(conn, payloadError(raw))
			return
		}
		if _, err := d.Engine.SetPriority(data.Token, data.Task.ID, data.Task.Priority); err != nil {
			d.send(conn, replyError(err))
		}
	case CmdDelete:
		if data.Task == nil || data.Task.ID == "" {
			d.send(conn, payloadError(raw))
			return
		}
		target := domain.Task{
			ID:       data.Task.ID,
			Name:     data.Task.Name,
			Project:  data.Task.Project,
			Priority: data.Task.Priority,
		}
		if err := d.Engine.Delete(data.Token, target); err != nil {
			d.send(conn, replyError(err))
		}
	case CmdStart, CmdPause, CmdResume, CmdRestart, CmdComplete, CmdCopy:
		if data.Task == nil || data.Task.ID == "" {
			d.send(conn, payloadError(raw))
			return
		}
		var err error
		switch cmd {
		case CmdStart:
			_, err = d.Engine.Start(data.Token, data.Task.ID)
		case CmdPause:
			_, err = d.Engine.Pause(data.Token, data.Task.ID)
		case CmdResume:
			_, err = d.Engine.Resume(data.Token, data.Task.ID)
		case CmdRestart:
			_, err = d.Engine.Restart(data.Token, data.Task.ID)
		case CmdComplete:
			_, err = d.Engine.Complete(data.Token, data.Task.ID)
		case CmdCopy:
			_, err = d.Engine.Copy(data.Token, data.Task.ID)
		}
		if err != nil {
			d.send(conn, replyError(err))
		}
	case CmdUnknown, CmdPing, CmdRegister, CmdLogin, CmdLogout:
		d.send(conn, payloadError(raw))
	}
}

func (d Dispatcher) send(conn registry.Conn, msg domain.Message) {
	if err := conn.Send(msg); err != nil && d.Log != nil {
		d.Log.Printf("reply to connection %s: %v", conn.ID(), err)
	}
}
