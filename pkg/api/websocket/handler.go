package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/taskmesh/pkg/domain"
	"github.com/aescanero/taskmesh/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventBuffer = 64
	writeWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RunLookup resolves the current state of a run
type RunLookup interface {
	Status(ctx context.Context, handle domain.RunHandle) (*domain.RunSnapshot, error)
}

// Message is one frame sent to a client. The first frame of a stream carries
// the snapshot; the following ones carry lifecycle events.
type Message struct {
	Type     string              `json:"type"`
	RunID    string              `json:"run_id"`
	Snapshot *domain.RunSnapshot `json:"snapshot,omitempty"`
	Event    *ports.Event        `json:"event,omitempty"`
}

// MessageTypeSnapshot marks the initial frame of a stream
const MessageTypeSnapshot = "snapshot"

// MessageTypeEvent marks a lifecycle event frame
const MessageTypeEvent = "event"

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	runs     RunLookup
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, runs RunLookup, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		runs:     runs,
		logger:   logger,
	}
}

// HandleRunStream streams the lifecycle events of one run until it finishes
// or the client disconnects.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before reading the snapshot so a run finishing in between
	// still delivers its run.completed event.
	events := make(chan ports.Event, eventBuffer)
	if err := h.eventBus.Subscribe(ctx, ports.TopicRuns, h.forward(runID, events)); err != nil {
		h.logger.Error("failed to subscribe to events", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"code": "EVENTS_UNAVAILABLE", "message": err.Error()}})
		return
	}

	snapshot, err := h.runs.Status(ctx, domain.RunHandle{ID: runID})
	if err != nil {
		status, code := http.StatusInternalServerError, "INTERNAL"
		if errors.Is(err, domain.ErrRunNotFound) {
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
		c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	if err := h.write(conn, Message{Type: MessageTypeSnapshot, RunID: runID, Snapshot: snapshot}); err != nil {
		return
	}
	if snapshot.State != domain.RunStateRunning {
		h.closeNormal(conn, "run finished")
		return
	}

	// The client never sends anything meaningful; reading detects disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := h.write(conn, Message{Type: MessageTypeEvent, RunID: runID, Event: &event}); err != nil {
				return
			}
			if event.Type == ports.EventTypeRunCompleted {
				h.closeNormal(conn, "run finished")
				return
			}
		}
	}
}

// forward returns an event handler that passes the run's events to ch
func (h *Handler) forward(runID string, ch chan<- ports.Event) ports.EventHandler {
	return func(ctx context.Context, event ports.Event) error {
		if event.RunID != runID {
			return nil
		}

		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("run_id", runID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}

func (h *Handler) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("failed to write message", zap.String("run_id", msg.RunID), zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) closeNormal(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
