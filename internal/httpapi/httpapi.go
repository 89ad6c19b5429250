package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/service"
	"klinikpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	log           *zap.Logger
	validate      *validator.Validate
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	now           func() time.Time
}

type Options struct {
	AllowedOrigin string
	Logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		log:           opts.Logger.Named("http"),
		validate:      newValidator(),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(limitBody)
	r.Use(a.checkCSRF)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleCashier, RoleAdmin))

			r.Get("/products", a.handleListProducts)
			r.Get("/products/{id}", a.handleGetProduct)

			r.Post("/sales", a.handleSale)
			r.Get("/transactions", a.handleListTransactions)
			r.Get("/transactions/{id}", a.handleGetTransaction)
			r.Post("/transactions/{id}/void", a.handleFinalize(domain.TxStatusVoid))
			r.Post("/transactions/{id}/refund", a.handleFinalize(domain.TxStatusRefunded))

			r.Get("/customers", a.handleListCustomers)
			r.Post("/customers", a.handleCreateCustomer)
			r.Get("/customers/{id}", a.handleGetCustomer)
			r.Get("/customers/{id}/points", a.handleListPointAdjustments)
			r.Post("/customers/{id}/debt-payments", a.handlePayDebt)

			r.Post("/commissions/preview", a.handleCommissionPreview)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleAdmin))

			r.Post("/products", a.handleCreateProduct)
			r.Post("/products/import", a.handleImportProducts)
			r.Patch("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)
			r.Post("/products/{id}/stock/receive", a.handleReceiveStock)
			r.Post("/products/{id}/stock/reduce", a.handleReduceStock)
			r.Post("/products/{id}/stock/adjust", a.handleAdjustStock)
			r.Get("/products/{id}/batches", a.handleListBatches)
			r.Get("/products/{id}/movements", a.handleListMovements)

			r.Post("/customers/{id}/points", a.handleAdjustPoints)

			r.Get("/reports/daily", a.handleDailyReport)
			r.Get("/audit-logs", a.handleAuditLogs)

			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
			r.Post("/users/cashiers/{username}/password", a.handleResetCashierPassword)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				a.writeError(w, r, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				a.writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// decodeJSON rejects unknown fields and runs struct validation.
func (a *API) decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return a.validate.Struct(dest)
}

func (a *API) writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	fields := make(map[string]string, len(invalid))
	for _, fe := range invalid {
		fields[strings.TrimPrefix(fe.Namespace(), fieldRoot(fe))] = validationMessage(fe)
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}

// fieldRoot is the struct name prefix validator puts on every namespace.
func fieldRoot(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[:idx+1]
	}
	return ""
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must contain at least " + fe.Param() + " entries"
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// statusFor maps the domain and store error taxonomy onto HTTP. A failed
// commit whose cause is not classified above is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, store.ErrNotFound), errors.Is(err, ErrCashierNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyFinalized), errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrStatusMismatch), errors.Is(err, store.ErrDuplicate),
		errors.Is(err, ErrCashierExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransaction), errors.Is(err, store.ErrBatchTooLarge),
		errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidLine),
		errors.Is(err, domain.ErrInvalidStay), errors.Is(err, inventory.ErrNegativeCost):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	a.writeError(w, r, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	payload := map[string]any{"error": err.Error()}
	if status >= 500 {
		a.log.Error("internal error",
			zap.Int("status", status),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		payload["error"] = "internal server error"
	}
	var short *domain.InsufficientStockError
	if errors.As(err, &short) {
		payload["product_id"] = short.ProductID
		payload["available"] = short.Available
		payload["requested"] = short.Requested
	}
	writeJSON(w, status, payload)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
