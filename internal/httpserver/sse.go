package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type sendRequest struct {
	Text string `json:"text"`
}

// handleSend runs one send and streams reply progress back as SSE. Each
// "delta" event carries the accumulated reply so far, so a slow reader can
// drop intermediate events without losing text. The closing "log" event
// carries the full message log.
func (s *Server) handleSend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	// Latest-wins buffer: each delta supersedes the previous one.
	deltas := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.session.SendMessage(c.Request().Context(), req.Text, func(full string) {
			for {
				select {
				case deltas <- full:
					return
				default:
					select {
					case <-deltas:
					default:
					}
				}
			}
		})
	}()

	for {
		select {
		case full := <-deltas:
			writeSSE(w, "delta", map[string]string{"text": full})
			w.Flush()
		case <-done:
			// drain the last delta before the final snapshot
			select {
			case full := <-deltas:
				writeSSE(w, "delta", map[string]string{"text": full})
			default:
			}
			writeSSE(w, "log", logResponse{
				Messages: s.session.CurrentLog(),
				Sending:  s.session.IsSending(),
			})
			w.Flush()
			return nil
		}
	}
}

func writeSSE(w *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
