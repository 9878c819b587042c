package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/AssistantHub/internal/drm"
	"github.com/digkill/AssistantHub/internal/service"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	overview, err := s.svc.Accounts.Overview(r.Context(), accountFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.svc.Accounts.Transactions(r.Context(), accountFrom(r.Context()).ID, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleMyUsage(w http.ResponseWriter, r *http.Request) {
	logs, err := s.svc.Accounts.Usage(r.Context(), accountFrom(r.Context()).ID, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleMyImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.svc.Images.List(r.Context(), accountFrom(r.Context()).ID, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.Projects.ListVisible(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.svc.Chat.ListThreads(r.Context(), accountFrom(r.Context()).ID, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Chat.Messages(r.Context(), accountFrom(r.Context()).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

type fileRef struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type chatRequest struct {
	Message     string    `json:"message" validate:"required,max=32000"`
	UserID      string    `json:"userId"`
	ProjectSlug string    `json:"projectSlug" validate:"required,max=64"`
	Model       string    `json:"model" validate:"max=64"`
	ThreadID    string    `json:"threadId" validate:"max=36"`
	FileURLs    []fileRef `json:"fileUrls" validate:"max=10,dive"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	files := make([]string, 0, len(req.FileURLs))
	for _, f := range req.FileURLs {
		files = append(files, f.URL)
	}
	res, err := s.svc.Chat.Send(r.Context(), accountFrom(r.Context()), service.ChatInput{
		Message:     req.Message,
		UserID:      req.UserID,
		ProjectSlug: req.ProjectSlug,
		Model:       req.Model,
		ThreadID:    req.ThreadID,
		FileURLs:    files,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"reply":    res.Reply,
		"threadId": res.ThreadID,
		"cost":     res.Cost,
	})
}

type imageRequest struct {
	Message     string `json:"message" validate:"required,max=4000"`
	UserID      string `json:"userId"`
	ProjectID   int64  `json:"projectId" validate:"gte=0"`
	ProjectSlug string `json:"projectSlug" validate:"max=64"`
	Quality     string `json:"quality" validate:"max=16"`
	NumImages   int    `json:"numImages" validate:"gte=0"`
	ImageSize   string `json:"imageSize" validate:"max=32"`
	ThreadID    string `json:"threadId" validate:"max=36"`
	Model       string `json:"model" validate:"max=64"`
}

func (s *Server) handleGenerateImages(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.Images.Generate(r.Context(), accountFrom(r.Context()), service.ImageInput{
		Message:     req.Message,
		UserID:      req.UserID,
		ProjectID:   req.ProjectID,
		ProjectSlug: req.ProjectSlug,
		ThreadID:    req.ThreadID,
		Model:       req.Model,
		Quality:     req.Quality,
		NumImages:   req.NumImages,
		ImageSize:   req.ImageSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body := map[string]any{
		"success":          true,
		"isTextResponse":   out.IsText(),
		"cost":             out.Cost,
		"remainingCredits": out.Remaining,
	}
	if out.IsText() {
		body["text"] = out.Text
	} else {
		body["imageUrls"] = out.URLs
	}
	s.writeJSON(w, http.StatusOK, body)
}

type redeemRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

func (s *Server) handleRedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Coupons.Redeem(r.Context(), accountFrom(r.Context()).ID, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"credits": res.Credits,
		"balance": res.Account.Credits,
		"code":    res.Coupon.Code,
	})
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	playback, err := s.svc.Videos.Playback(r.Context(), chi.URLParam(r, "videoID"))
	if err != nil {
		switch {
		case errors.Is(err, drm.ErrInvalidVideo):
			err = fmt.Errorf("%w: %v", service.ErrValidation, err)
		case errors.Is(err, drm.ErrNotConfigured):
			err = fmt.Errorf("%w: %v", service.ErrNotConfigured, err)
		default:
			err = fmt.Errorf("%w: %v", service.ErrDownstream, err)
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, playback)
}
