package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/lavaops/stationd/internal/apperrors"
	"github.com/lavaops/stationd/internal/handlers/render"
	"github.com/lavaops/stationd/internal/logger"
	"github.com/lavaops/stationd/internal/models"
	"github.com/lavaops/stationd/internal/scan"
)

// Tags a subscriber may lag behind before events are dropped for it
const streamBuffer = 64

type streamEvent struct {
	name string
	data any
}

// ScanHandler drives scan sessions and fans accepted tags out to the UI
// over server-sent events. The scanner delivers to one consumer; this
// handler is that consumer and re-broadcasts to connected streams.
type ScanHandler struct {
	scanner scanService
	logger  logger.Logger

	mu   sync.Mutex
	subs map[chan streamEvent]struct{}
}

func NewScanHandler(scanner scanService, logger logger.Logger) *ScanHandler {
	return &ScanHandler{
		scanner: scanner,
		logger:  logger,
		subs:    make(map[chan streamEvent]struct{}),
	}
}

func (h *ScanHandler) start(w http.ResponseWriter, r *http.Request) {
	type StartRequest struct {
		MinSignal int `json:"min_signal" validate:"lte=0"`
		MaxTags   int `json:"max_tags" validate:"gte=0"`
	}
	type StartSuccessResponse struct {
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[StartRequest](w, r)
	if err != nil {
		return
	}

	// The session outlives the request that started it
	err = h.scanner.Start(context.WithoutCancel(r.Context()), h.publishTag, scan.Options{
		MinSignal: data.MinSignal,
		MaxTags:   data.MaxTags,
		OnError:   h.publishError,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrScanAlreadyActive):
			render.ServiceError(w, "Scan session already active", http.StatusConflict)
		default:
			h.logger.Error("Failed to start scan session", "error", err)
			render.ServiceError(w, "Failed to start scanning", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, StartSuccessResponse{Message: "Scanning started"})
}

func (h *ScanHandler) stop(w http.ResponseWriter, r *http.Request) {
	type StopSuccessResponse struct {
		Message string `json:"message"`
	}

	err := h.scanner.Stop(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrScanNotActive):
			render.ServiceError(w, "No scan session active", http.StatusConflict)
		default:
			h.logger.Error("Failed to stop scan session", "error", err)
			render.ServiceError(w, "Failed to stop scanning", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, StopSuccessResponse{Message: "Scanning stopped"})
}

func (h *ScanHandler) reset(w http.ResponseWriter, r *http.Request) {
	type ResetSuccessResponse struct {
		Message string `json:"message"`
	}

	h.scanner.Reset()
	render.JSON(w, ResetSuccessResponse{Message: "Seen tags cleared"})
}

func (h *ScanHandler) forget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		render.ServiceError(w, "Tag id is required", http.StatusBadRequest)
		return
	}

	h.scanner.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScanHandler) state(w http.ResponseWriter, r *http.Request) {
	type StateResponse struct {
		Active bool `json:"active"`
	}

	render.JSON(w, StateResponse{Active: h.scanner.Active()})
}

// stream pushes accepted tags and hardware faults as server-sent events
// until the client disconnects
func (h *ScanHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		render.ServiceError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.subscribe()
	defer h.unsubscribe(events)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev.data)
			if err != nil {
				h.logger.Error("Failed to encode stream event", "event", ev.name, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *ScanHandler) publishTag(tag models.Tag) {
	h.publish(streamEvent{name: "tag", data: tag})
}

func (h *ScanHandler) publishError(err error) {
	type ScanErrorEvent struct {
		Message string `json:"message"`
	}

	h.publish(streamEvent{name: "error", data: ScanErrorEvent{Message: err.Error()}})
}

func (h *ScanHandler) publish(ev streamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub <- ev:
		default:
			// Slow subscriber, drop rather than stall tag delivery
		}
	}
}

func (h *ScanHandler) subscribe() chan streamEvent {
	ch := make(chan streamEvent, streamBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *ScanHandler) unsubscribe(ch chan streamEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}
