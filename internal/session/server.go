package session

import "github.com/ehrlich-b/clicker/internal/config"

// Server is the listener role. It subscribes to the room, registers no
// will and publishes nothing; received messages reach the Observer.
type Server struct {
	*Session
}

func NewServer(cfg *config.Config, opts Options) *Server {
	return &Server{Session: newSession(cfg, "", opts)}
}
