package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

// streamVisibility pushes the current snapshot, then one event per committed
// cycle. Slow clients only ever see the newest snapshot.
func (s *Server) streamVisibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	updates := make(chan *model.VisibilitySnapshot, 1)
	unsubscribe := s.deps.Radar.Subscribe(func(snap *model.VisibilitySnapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if snap := s.deps.Radar.Snapshot(); snap != nil {
		if err := writeEvent(w, snap); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		s.log.Warn(ctx, "sse flush unsupported", logging.Err(err))
		return
	}

	keepAlive := time.NewTicker(s.deps.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := writeEvent(w, snap); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w io.Writer, snap *model.VisibilitySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: visibility\ndata: %s\n\n", snap.ComputedAt.UnixMilli(), data)
	return err
}
