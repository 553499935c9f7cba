package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/navi/internal/processor"
	"github.com/ent0n29/navi/internal/protocol"
)

// handleEventsWS relays task and plan events for one session and accepts
// command messages over the same connection. Writes stay single-threaded: the
// writer goroutine owns the connection, everything else feeds outbound.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)

	taskEvents, cancelTasks := s.runtime.Subscribe(sess.ID)
	defer cancelTasks()
	planEvents, cancelPlans := s.plans.Subscribe(sess.ID)
	defer cancelPlans()

	// Fan the two event streams into the single outbound queue.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-taskEvents:
				if !ok {
					return
				}
				s.enqueue(ctx, outbound, protocol.NewTaskEvent(evt))
			case evt, ok := <-planEvents:
				if !ok {
					return
				}
				s.enqueue(ctx, outbound, protocol.NewPlanEvent(evt))
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = s.sessions.Touch(sess.ID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(ctx, outbound, protocol.NewError(sess.ID, "invalid_client_message", err.Error()))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		s.enqueue(ctx, outbound, s.dispatchWS(sess.ID, parsed))
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// dispatchWS executes one inbound command and returns the ack for it.
func (s *Server) dispatchWS(sessionID string, msg any) any {
	switch m := msg.(type) {
	case protocol.StartTask:
		task, err := s.runtime.StartTask(processor.Request{
			TaskID:    m.TaskID,
			SessionID: sessionID,
			UserID:    m.UserID,
			Command:   m.Command,
		})
		if err != nil {
			return protocol.NewAck(protocol.TypeStartTask, m.TaskID, false, err.Error())
		}
		_ = s.sessions.RecordTask(sessionID)
		return protocol.NewAck(protocol.TypeStartTask, task.ID, true, "")
	case protocol.CancelTask:
		if !s.runtime.Cancel(m.TaskID, m.Reason) {
			return protocol.NewAck(protocol.TypeCancelTask, m.TaskID, false, "task not found or already settled")
		}
		return protocol.NewAck(protocol.TypeCancelTask, m.TaskID, true, "")
	case protocol.UpdateStepCommand:
		ok := s.plans.UpdateStepCommand(m.TaskID, *m.StepIndex, m.NewCommand)
		if !ok {
			ok = s.registry.UpdateStepCommand(m.TaskID, *m.StepIndex, m.NewCommand)
		}
		if !ok {
			return protocol.NewAck(protocol.TypeUpdateStepCommand, m.TaskID, false, "task not found or already settled")
		}
		return protocol.NewAck(protocol.TypeUpdateStepCommand, m.TaskID, true, "")
	case protocol.UpdateTaskCommand:
		ok := s.plans.UpdateTaskCommand(m.TaskID, m.NewCommand, m.Reason)
		if !ok {
			ok = s.registry.UpdateTaskCommand(m.TaskID, m.NewCommand, m.Reason)
		}
		if !ok {
			return protocol.NewAck(protocol.TypeUpdateTaskCommand, m.TaskID, false, "task not found or already settled")
		}
		return protocol.NewAck(protocol.TypeUpdateTaskCommand, m.TaskID, true, "")
	default:
		return protocol.NewError(sessionID, "unsupported_message", "message type not handled")
	}
}

// enqueue drops the message rather than blocking the reader when the outbound
// queue is saturated.
func (s *Server) enqueue(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	default:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.StartTask:
		return m.Type, true
	case protocol.CancelTask:
		return m.Type, true
	case protocol.UpdateStepCommand:
		return m.Type, true
	case protocol.UpdateTaskCommand:
		return m.Type, true
	case protocol.TaskEvent:
		return m.Type, true
	case protocol.PlanEvent:
		return m.Type, true
	case protocol.Ack:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
