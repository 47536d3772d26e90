package main

import (
	"net/http"

	"go.uber.org/zap"

	"ledgerlink/internal/shared/config"
	"ledgerlink/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler
// with middleware applied.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)

	h := deps.Handler

	// Connection lifecycle
	mux.HandleFunc("GET /api/providers", h.HandleProviders)
	mux.HandleFunc("POST /api/connections/{provider}/authorize", h.HandleAuthorize)
	mux.HandleFunc("GET /api/connections/{provider}/callback", h.HandleCallback)
	mux.HandleFunc("GET /api/connections/{provider}", h.HandleStatus)
	mux.HandleFunc("POST /api/connections/{provider}/validate", h.HandleValidate)
	mux.HandleFunc("DELETE /api/connections/{provider}", h.HandleDisconnect)

	// Ledger reads
	mux.HandleFunc("GET /api/{provider}/company", h.HandleCompanyInfo)
	mux.HandleFunc("GET /api/{provider}/accounts", h.HandleChartOfAccounts)
	mux.HandleFunc("GET /api/{provider}/vendors", h.HandleVendors)
	mux.HandleFunc("GET /api/{provider}/vendors/{id}", h.HandleVendor)
	mux.HandleFunc("GET /api/{provider}/customers", h.HandleCustomers)
	mux.HandleFunc("GET /api/{provider}/customers/{id}", h.HandleCustomer)
	mux.HandleFunc("GET /api/{provider}/overview", h.HandleOverview)

	// Transaction creates
	mux.HandleFunc("POST /api/{provider}/expenses", h.HandleCreateExpense)
	mux.HandleFunc("POST /api/{provider}/bills", h.HandleCreateBill)
	mux.HandleFunc("POST /api/{provider}/invoices", h.HandleCreateInvoice)
	mux.HandleFunc("POST /api/{provider}/journal-entries", h.HandleCreateJournalEntry)

	// Global middleware, innermost first.
	var handler http.Handler = mux
	handler = middleware.CORS(cfg.Server.AllowedHosts)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.Telemetry(handler)

	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		logger.Info("TLS security middleware enabled")
	}

	return handler
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
