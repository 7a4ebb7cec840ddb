package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// EventReady is the first event on every stream, sent once the subscription
// is live.
const EventReady = "ready"

var heartbeatInterval = 15 * time.Second

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return rc.Flush()
}

// handleEvents streams the tree events of one conversation as server-sent
// events until the client goes away or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event streaming is disabled"})
		return
	}

	convID := r.PathValue("id")
	if _, _, err := s.service.GetTree(convID); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	stream, err := s.bus.Subscribe(ctx, convID)
	if err != nil {
		s.writeError(w, r, errors.Wrap(err, "could not subscribe to conversation events"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logger := zerolog.Ctx(ctx)
	rc := http.NewResponseController(w)
	if err := writeEvent(w, rc, EventReady, map[string]string{"conversation_id": convID}); err != nil {
		logger.Debug().Err(err).Msg("event stream closed")
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.streams.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case event, ok := <-stream:
			if !ok {
				return
			}
			if err := writeEvent(w, rc, string(event.Type), event); err != nil {
				logger.Debug().Err(err).Msg("event stream closed")
				return
			}
			if event.Type == conversation.EventTreeDeleted {
				return
			}
		}
	}
}
