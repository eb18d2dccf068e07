package server

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"taskwire/internal/domain"
	"taskwire/internal/engine"
	"taskwire/internal/identity"
	"taskwire/internal/registry"
)

// Config for the HTTP handler hosting the websocket endpoint and status API.
type Config struct {
	Engine   engine.Engine
	Identity identity.Service
	Registry *registry.Registry
	BasePath string
	Logger   *log.Logger
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// New returns an HTTP handler exposing /ws plus the status API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Taskwire API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Engine, cfg.Registry)

	d := Dispatcher{
		Identity: cfg.Identity,
		Engine:   cfg.Engine,
		Registry: cfg.Registry,
		Log:      cfg.logger(),
	}
	router.Get("/ws", serveWS(d, cfg))

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine, reg *registry.Registry) {
	type statusBody struct {
		Connections int                    `json:"connections"`
		Identities  []domain.IdentityStats `json:"identities"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Server status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body statusBody `json:"body"`
	}, error) {
		return &struct {
			Body statusBody `json:"body"`
		}{Body: statusBody{
			Connections: reg.Count(),
			Identities:  identityStats(e, reg),
		}}, nil
	})
}

func identityStats(e engine.Engine, reg *registry.Registry) []domain.IdentityStats {
	tokens := reg.Tokens()
	sort.Strings(tokens)
	stats := make([]domain.IdentityStats, 0, len(tokens))
	for _, token := range tokens {
		stats = append(stats, domain.IdentityStats{
			Token:       token,
			Connections: reg.CountForToken(token),
			Tasks:       e.Store.CountForToken(token),
		})
	}
	return stats
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a websocket connection to the registry's Conn interface.
// The write mutex serializes fan-out sends with direct replies.
type wsConn struct {
	id   string
	sock *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteJSON(msg)
}

func serveWS(d Dispatcher, cfg Config) http.HandlerFunc {
	logger := cfg.logger()
	return func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("websocket upgrade: %v", err)
			return
		}
		conn := &wsConn{id: uuid.New().String(), sock: sock}
		// Teardown must leave the registry before the socket closes so a
		// dead connection is never a fan-out target.
		defer func() {
			cfg.Registry.Disassociate(conn)
			sock.Close()
		}()
		for {
			_, raw, err := sock.ReadMessage()
			if err != nil {
				return
			}
			d.Dispatch(conn, raw)
			logStats(logger, cfg)
		}
	}
}

func logStats(logger *log.Logger, cfg Config) {
	for _, s := range identityStats(cfg.Engine, cfg.Registry) {
		logger.Printf("identity %s: connections=%d tasks=%d", s.Token, s.Connections, s.Tasks)
	}
}
