package v1

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentrun/internal/event"
	"github.com/xiaot623/agentrun/internal/pubsub"
)

const streamMaxDuration = 30 * time.Minute

// StreamRunEvents replays a run's persisted events after ?after= (or
// Last-Event-ID) and then follows its logs channel as Server-Sent Events
// until the run ends or the client disconnects.
// GET /v1/runs/:run_id/events/stream
func (h *Handler) StreamRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.service.GetRun(ctx, runID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	var after int64
	v := c.QueryParam("after")
	if v == "" {
		v = c.Request().Header.Get("Last-Event-ID")
	}
	if v != "" {
		after, _ = strconv.ParseInt(v, 10, 64)
	}

	// Subscribe before replaying so nothing falls between the two.
	var sub *pubsub.Subscriber
	if h.transport != nil && !run.Status.IsTerminal() {
		sub, err = h.transport.Subscribe(ctx, run.LogsChannel, nil)
		if err != nil {
			return h.errorResponse(c, err)
		}
		defer sub.Close()
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	logs, err := h.service.GetRunLogs(ctx, runID, after, 0)
	if err != nil {
		h.logger.Error("failed to replay run logs", "run_id", runID, "error", err)
		return nil
	}
	last := after
	for _, l := range logs {
		if err := writeSSE(c, strconv.FormatInt(l.ID, 10), l.Type, l.Content); err != nil {
			return nil
		}
		last = l.ID
		if endsStream(event.Type(l.Type)) {
			return nil
		}
	}
	if sub == nil {
		return nil
	}

	deadline := time.NewTimer(streamMaxDuration)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			h.logger.Info("event stream exceeded max duration", "run_id", runID)
			return nil
		case <-sub.Done():
			return nil
		default:
		}

		msg, ok, err := sub.Poll(ctx)
		if err != nil {
			return nil
		}
		if !ok {
			continue
		}
		// Events published before the replay query are already sent.
		id := ""
		if seq := event.DecodeLenient(msg.Payload).Common().Seq; seq > 0 {
			if seq <= last {
				continue
			}
			last = seq
			id = strconv.FormatInt(seq, 10)
		}
		if err := writeSSE(c, id, msg.Type, msg.Payload); err != nil {
			return nil
		}
		if endsStream(event.Type(msg.Type)) {
			return nil
		}
	}
}

func endsStream(t event.Type) bool {
	return t == event.TypeEnd || t == event.TypeError || t == event.TypeRunCancelled
}

// writeSSE writes one event. Format: id, event and data lines.
func writeSSE(c echo.Context, id, typ string, data []byte) error {
	w := c.Response()
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
