package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/auth"
	"github.com/digkill/AssistantHub/internal/config"
	"github.com/digkill/AssistantHub/internal/drm"
	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/service"
	"github.com/digkill/AssistantHub/internal/thrivecart"
)

const maxBodyBytes = 1 << 20

type Accounts interface {
	EnsureFromClaims(ctx context.Context, claims *auth.Claims) (*models.Account, error)
	Get(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context, limit, offset int) ([]models.Account, error)
	Overview(ctx context.Context, account *models.Account) (*service.Overview, error)
	Transactions(ctx context.Context, accountID string, limit int) ([]models.CreditTransaction, error)
	Usage(ctx context.Context, accountID string, limit int) ([]models.UsageLog, error)
	ManualGrant(ctx context.Context, accountID string, amount decimal.Decimal, note string) (*models.Account, error)
	SetTier(ctx context.Context, accountID string, tier models.Tier) (*models.Account, error)
}

type Webhooks interface {
	HandlePayment(ctx context.Context, ev thrivecart.Event) (*service.WebhookResult, error)
	HandleTopUp(ctx context.Context, ev thrivecart.Event) (*service.WebhookResult, error)
	RecentEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

type Coupons interface {
	Redeem(ctx context.Context, accountID, code string) (*service.RedeemResult, error)
	List(ctx context.Context) ([]models.Coupon, error)
	Create(ctx context.Context, in service.CouponInput) (*models.Coupon, error)
	Update(ctx context.Context, id int64, in service.CouponInput) (*models.Coupon, error)
	Delete(ctx context.Context, id int64) error
}

type Projects interface {
	ListVisible(ctx context.Context) ([]models.Project, error)
	List(ctx context.Context) ([]models.Project, error)
	Create(ctx context.Context, in service.ProjectInput) (*models.Project, error)
	Update(ctx context.Context, id int64, in service.ProjectInput) (*models.Project, error)
	Delete(ctx context.Context, id int64) error
}

type Chat interface {
	Send(ctx context.Context, account *models.Account, in service.ChatInput) (*service.ChatResult, error)
	ListThreads(ctx context.Context, accountID string, limit int) ([]models.ChatThread, error)
	Messages(ctx context.Context, accountID, threadID string) ([]models.Message, error)
}

type Images interface {
	Generate(ctx context.Context, account *models.Account, in service.ImageInput) (*service.ImageOutcome, error)
	List(ctx context.Context, accountID string, limit int) ([]models.GeneratedImage, error)
}

type Videos interface {
	Playback(ctx context.Context, videoID string) (*drm.Playback, error)
}

// Services groups the domain operations the HTTP layer exposes.
type Services struct {
	Accounts Accounts
	Webhooks Webhooks
	Coupons  Coupons
	Projects Projects
	Chat     Chat
	Images   Images
	Videos   Videos
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	tokens   *auth.TokenManager
	svc      Services
	limits   *limiterSet
	validate *validator.Validate
	router   *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, tokens *auth.TokenManager, svc Services) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     cfg.ListenAddr,
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		log:      log,
		tokens:   tokens,
		svc:      svc,
		limits:   newLimiterSet(cfg.RateLimitPerMinute),
		validate: validator.New(),
		router:   r,
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/webhooks/thrivecart", func(r chi.Router) {
		r.Head("/", s.handleWebhookCheck)
		r.Post("/", s.handlePaymentWebhook)
		r.Head("/topup", s.handleWebhookCheck)
		r.Post("/topup", s.handleTopUpWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/me", s.handleMe)
		r.Get("/me/transactions", s.handleMyTransactions)
		r.Get("/me/usage", s.handleMyUsage)
		r.Get("/me/images", s.handleMyImages)
		r.Get("/projects", s.handleProjects)
		r.Get("/threads", s.handleThreads)
		r.Get("/threads/{id}/messages", s.handleThreadMessages)
		r.Post("/coupons/redeem", s.handleRedeemCoupon)
		r.Get("/videos/{videoID}/playback", s.handlePlayback)
		r.Group(func(metered chi.Router) {
			metered.Use(s.rateLimitMiddleware)
			metered.Post("/chat", s.handleChat)
			metered.Post("/images/generate", s.handleGenerateImages)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.basicAuthMiddleware)
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleAdminListAccounts)
			r.Get("/{id}", s.handleAdminGetAccount)
			r.Post("/{id}/grant", s.handleAdminGrant)
			r.Put("/{id}/tier", s.handleAdminSetTier)
			r.Get("/{id}/transactions", s.handleAdminTransactions)
			r.Get("/{id}/usage", s.handleAdminUsage)
		})
		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", s.handleAdminListCoupons)
			r.Post("/", s.handleAdminCreateCoupon)
			r.Put("/{id}", s.handleAdminUpdateCoupon)
			r.Delete("/{id}", s.handleAdminDeleteCoupon)
		})
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleAdminListProjects)
			r.Post("/", s.handleAdminCreateProject)
			r.Put("/{id}", s.handleAdminUpdateProject)
			r.Delete("/{id}", s.handleAdminDeleteProject)
		})
		r.Get("/webhook-events", s.handleAdminWebhookEvents)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled. Image generation waits on a slow
// workflow, so the write timeout is well above its deadline.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      200 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {success:false, error}. Server-side failures are
// logged and reported without internal detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		message = publicMessage(err)
	}
	s.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrCouponNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCouponExhausted), errors.Is(err, service.ErrCouponRedeemed),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrCouponExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrCouponNotRedeemable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrDownstream):
		return service.ErrDownstream.Error()
	case errors.Is(err, service.ErrNotConfigured), errors.Is(err, drm.ErrNotConfigured):
		return "service is not configured"
	default:
		return "internal error"
	}
}

var (
	errInvalidRequest = errors.New("invalid request")
	errRateLimited    = errors.New("too many requests, slow down")
)

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json", errInvalidRequest)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %s", errInvalidRequest, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", errInvalidRequest)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
