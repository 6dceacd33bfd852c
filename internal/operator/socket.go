package operator

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
)

var errInUse = errors.New("operator console already connected")

// exclusive admits one holder at a time without blocking the others.
type exclusive struct {
	mu    sync.Mutex
	inUse bool
}

func (x *exclusive) acquire() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.inUse {
		return errInUse
	}
	x.inUse = true
	return nil
}

func (x *exclusive) release() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.inUse = false
}

// Socket is the operator console endpoint: a websocket carrying JSON Events.
// A second console is refused with 409 Conflict. When the console drops,
// every held binding is released.
type Socket struct {
	bindings *Bindings
	log      logging.Logger
	upgrader websocket.Upgrader
	x        exclusive
}

// NewSocket serves bindings. log may be nil.
func NewSocket(bindings *Bindings, log logging.Logger) *Socket {
	if log == nil {
		log = logging.Noop()
	}
	return &Socket{
		bindings: bindings,
		log:      log.With(logging.String("component", "operator_socket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP implements http.Handler.
func (s *Socket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-cache")
	if err := s.x.acquire(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer s.x.release()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "operator websocket upgrade failed", logging.Err(err))
		return
	}
	defer ws.Close()

	ctx := r.Context()
	defer s.bindings.ReleaseAll(ctx)
	s.log.Info(ctx, "operator console connected", logging.String("remote", r.RemoteAddr))

	for {
		var ev Event
		if err := ws.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn(ctx, "operator socket read failed", logging.Err(err))
			}
			s.log.Info(ctx, "operator console disconnected")
			return
		}
		if err := s.bindings.Handle(ctx, ev); err != nil {
			s.log.Warn(ctx, "operator event rejected",
				logging.String("button", string(ev.Button)),
				logging.Bool("pressed", ev.Pressed),
				logging.Err(err),
			)
			if werr := ws.WriteJSON(map[string]string{"error": err.Error()}); werr != nil {
				return
			}
		}
	}
}
