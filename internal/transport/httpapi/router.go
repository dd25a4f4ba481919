package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/fundflow/internal/transport/httpapi/handler"
	"github.com/kislikjeka/fundflow/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger             *logger.Logger
	AllowedOrigins     []string
	RateLimit          func(http.Handler) http.Handler
	WalletHandler      *handler.WalletHandler
	TransactionHandler *handler.TransactionHandler
	TransferHandler    *handler.TransferHandler
	PaymentHandler     *handler.PaymentHandler
	OrgHandler         *handler.OrgHandler
	AllocationHandler  *handler.AllocationHandler
	HealthHandler      *handler.HealthHandler
	JWTMiddleware      func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	if cfg.RateLimit != nil {
		r.Use(cfg.RateLimit)
	}

	// Health checks (no authentication)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Provider webhooks authenticate by signature, not bearer token
		if cfg.PaymentHandler != nil {
			r.Post("/webhooks/{provider}", cfg.PaymentHandler.HandleWebhook)
		}

		if cfg.JWTMiddleware == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(cfg.JWTMiddleware)

			if h := cfg.WalletHandler; h != nil {
				r.Route("/wallets", func(r chi.Router) {
					r.Post("/", h.CreateWallet)
					r.Get("/", h.GetWallets)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", h.GetWallet)
						r.Get("/reconciliation", h.GetReconciliation)
						r.Get("/entries", h.GetEntries)
						r.Get("/transactions", h.GetTransactions)
						r.Post("/freeze", h.FreezeWallet)
						r.Post("/unfreeze", h.UnfreezeWallet)
						r.Post("/close", h.CloseWallet)
					})
				})
			}

			if h := cfg.TransactionHandler; h != nil {
				r.Get("/transactions/{id}", h.GetTransaction)
			}

			if h := cfg.TransferHandler; h != nil {
				r.Post("/transfers", h.CreateTransfer)
			}

			if h := cfg.PaymentHandler; h != nil {
				r.Post("/deposits", h.CreateDeposit)
				r.Post("/withdrawals", h.CreateWithdrawal)
			}

			if h := cfg.OrgHandler; h != nil {
				r.Route("/orgs", func(r chi.Router) {
					r.Post("/", h.CreateOrg)
					r.Get("/", h.GetOrgs)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", h.GetOrg)
						r.Get("/members", h.GetMembers)
						r.Post("/members", h.AddMember)
						r.Put("/members/{userID}", h.UpdateMember)
						r.Delete("/members/{userID}", h.RemoveMember)
						if a := cfg.AllocationHandler; a != nil {
							r.Post("/allocations", a.CreateAllocation)
							r.Get("/allocations", a.GetOrgAllocations)
						}
					})
				})
			}

			if h := cfg.AllocationHandler; h != nil {
				r.Route("/allocations/{id}", func(r chi.Router) {
					r.Get("/", h.GetAllocation)
					r.Post("/fund", h.FundAllocation)
					r.Post("/spend", h.Spend)
					r.Post("/freeze", h.FreezeAllocation)
					r.Post("/unfreeze", h.UnfreezeAllocation)
					r.Get("/rules", h.GetRules)
					r.Post("/rules", h.AddRule)
				})
				r.Put("/allocation-rules/{ruleID}", h.UpdateRule)
				r.Delete("/allocation-rules/{ruleID}", h.DeleteRule)
			}
		})
	})

	return r
}
