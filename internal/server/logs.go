package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/gitagent/internal/logtail"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// logLine is one message on the follow stream.
type logLine struct {
	Type string `json:"type"` // "line" or "error"
	Line string `json:"line"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	n := logtail.DefaultLines
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lines must be an integer")
			return
		}
		n = parsed
	}
	out, errLog := s.logs.LogPaths(agent.BranchHash)
	lines, err := logtail.Read(out, errLog, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": lines})
}

// handleFollowLogs upgrades to a websocket and streams lines appended to
// the agent's stdout log until the client disconnects.
func (s *Server) handleFollowLogs(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only exists to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	out, _ := s.logs.LogPaths(agent.BranchHash)
	err = logtail.Follow(ctx, out, s.opts.FollowInterval, func(line string) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(logLine{Type: "line", Line: line})
	})
	if err != nil && ctx.Err() == nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteJSON(logLine{Type: "error", Line: err.Error()})
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
