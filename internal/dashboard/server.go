package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
)

// DefaultPushInterval is how often the websocket pushes a snapshot.
const DefaultPushInterval = 100 * time.Millisecond

// Message is a client request on the dashboard socket.
type Message struct {
	Op      string   `json:"op"` // "put" or "select"
	Key     string   `json:"key,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Text    *string  `json:"text,omitempty"`
	Bool    *bool    `json:"bool,omitempty"`
	Profile string   `json:"profile,omitempty"`
}

// Server serves the dashboard table and chooser.
type Server struct {
	table    *Table
	chooser  *Chooser
	log      logging.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewServer builds a server. chooser may be nil when profiles are not
// selectable.
func NewServer(table *Table, chooser *Chooser, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		table:    table,
		chooser:  chooser,
		log:      log.With(logging.String("component", "dashboard")),
		interval: DefaultPushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetPushInterval changes the websocket push period for new connections.
func (s *Server) SetPushInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Register mounts GET /dashboard and /dashboard/ws on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/dashboard", s.handleSnapshot)
	mux.HandleFunc("/dashboard/ws", s.handleSocket)
}

// Encode renders the current table and chooser state as protobuf JSON.
func (s *Server) Encode() ([]byte, error) {
	st, err := s.table.Snapshot().Struct()
	if err != nil {
		return nil, err
	}
	if s.chooser != nil {
		selected, _ := s.chooser.Selected()
		opts := make([]any, 0)
		for _, o := range s.chooser.Options() {
			opts = append(opts, map[string]any{"name": o.Name, "label": o.Label})
		}
		pv, err := structpb.NewValue(map[string]any{
			"selected": selected,
			"default":  s.chooser.Default(),
			"options":  opts,
		})
		if err != nil {
			return nil, err
		}
		st.Fields["profile"] = pv
	}
	return protojson.Marshal(st)
}

// Apply executes one client request.
func (s *Server) Apply(m Message) error {
	switch m.Op {
	case "put":
		if m.Key == "" {
			return errors.New("put: key is required")
		}
		switch {
		case m.Value != nil:
			s.table.PutNumber(m.Key, *m.Value)
		case m.Text != nil:
			s.table.PutString(m.Key, *m.Text)
		case m.Bool != nil:
			s.table.PutBoolean(m.Key, *m.Bool)
		default:
			return fmt.Errorf("put %q: no value", m.Key)
		}
		return nil
	case "select":
		if s.chooser == nil {
			return errors.New("select: no profile chooser")
		}
		return s.chooser.Select(m.Profile)
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := s.Encode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(body)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-cache")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "dashboard websocket upgrade failed", logging.Err(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	replies := make(chan []byte, 8)
	go s.readLoop(ctx, cancel, ws, replies)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	push := func() error {
		body, err := s.Encode()
		if err != nil {
			return err
		}
		return ws.WriteMessage(websocket.TextMessage, body)
	}

	if err := push(); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-replies:
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := push(); err != nil {
				s.log.Debug(ctx, "dashboard push failed", logging.Err(err))
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, replies chan<- []byte) {
	defer cancel()
	for {
		var m Message
		if err := ws.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug(ctx, "dashboard socket closed", logging.Err(err))
			}
			return
		}
		if err := s.Apply(m); err != nil {
			s.log.Warn(ctx, "dashboard request rejected", logging.String("op", m.Op), logging.Err(err))
			body, _ := json.Marshal(map[string]string{"error": err.Error()})
			select {
			case replies <- body:
			case <-ctx.Done():
				return
			}
		}
	}
}
