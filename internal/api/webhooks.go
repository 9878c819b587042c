package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/digkill/AssistantHub/internal/thrivecart"
)

// handleWebhookCheck answers the HEAD request ThriveCart sends when a webhook
// URL is saved.
func (s *Server) handleWebhookCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ev, err := s.readEvent(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Webhooks.HandlePayment(r.Context(), ev)
	if err != nil {
		s.log.Warn("payment webhook rejected", "event", ev.Name, "order_id", ev.OrderID, "err", err)
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{"success": true}
	if res.Duplicate {
		body["duplicate"] = true
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTopUpWebhook(w http.ResponseWriter, r *http.Request) {
	ev, err := s.readEvent(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Webhooks.HandleTopUp(r.Context(), ev)
	if err != nil {
		s.log.Warn("top-up webhook rejected", "event", ev.Name, "order_id", ev.OrderID, "err", err)
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{"success": true, "credits": res.Credits}
	if res.Duplicate {
		body["duplicate"] = true
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) readEvent(w http.ResponseWriter, r *http.Request) (thrivecart.Event, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return thrivecart.Event{}, fmt.Errorf("%w: read body", errInvalidRequest)
	}
	ev, err := thrivecart.Parse(r.Header.Get("Content-Type"), raw)
	if err != nil {
		return thrivecart.Event{}, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return ev, nil
}
