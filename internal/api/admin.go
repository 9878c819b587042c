package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/service"
)

func (s *Server) handleAdminListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Accounts.List(r.Context(), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleAdminGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.svc.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

type grantRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=500"`
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.svc.Accounts.ManualGrant(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

type tierRequest struct {
	Tier models.Tier `json:"tier" validate:"required,oneof=free tier1 tier2 admin"`
}

func (s *Server) handleAdminSetTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.svc.Accounts.SetTier(r.Context(), chi.URLParam(r, "id"), req.Tier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleAdminTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.svc.Accounts.Transactions(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleAdminUsage(w http.ResponseWriter, r *http.Request) {
	logs, err := s.svc.Accounts.Usage(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleAdminListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := s.svc.Coupons.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, coupons)
}

func (s *Server) handleAdminCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req service.CouponInput
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	coupon, err := s.svc.Coupons.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, coupon)
}

func (s *Server) handleAdminUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req service.CouponInput
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	coupon, err := s.svc.Coupons.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, coupon)
}

func (s *Server) handleAdminDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Coupons.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.Projects.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleAdminCreateProject(w http.ResponseWriter, r *http.Request) {
	var req service.ProjectInput
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	project, err := s.svc.Projects.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleAdminUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req service.ProjectInput
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	project, err := s.svc.Projects.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleAdminDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Projects.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminWebhookEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Webhooks.RecentEvents(r.Context(), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}
