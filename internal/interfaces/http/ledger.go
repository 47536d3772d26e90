package http

import (
	"net/http"

	"golang.org/x/sync/errgroup"

	"ledgerlink/internal/domain/accounting"
)

func (h *Handler) HandleCompanyInfo(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	info, err := h.service.CompanyInfo(r.Context(), client, provider)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) HandleChartOfAccounts(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ChartOfAccounts(r.Context(), client, provider)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) HandleVendors(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	vendors, err := h.service.Vendors(r.Context(), client, provider)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

func (h *Handler) HandleCustomers(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	customers, err := h.service.Customers(r.Context(), client, provider)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (h *Handler) HandleVendor(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	vendor, err := h.service.Vendor(r.Context(), client, provider, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if vendor == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "vendor not found"})
		return
	}
	writeJSON(w, http.StatusOK, vendor)
}

func (h *Handler) HandleCustomer(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	customer, err := h.service.Customer(r.Context(), client, provider, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if customer == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "customer not found"})
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

type overviewResponse struct {
	Company   *accounting.CompanyInfo `json:"company"`
	Accounts  []accounting.Account    `json:"accounts"`
	Vendors   []accounting.Vendor     `json:"vendors"`
	Customers []accounting.Customer   `json:"customers"`
}

// HandleOverview fetches company, chart of accounts, vendors and
// customers in parallel. The single-flight refresh in the registry
// keeps the concurrent calls from racing a token rotation.
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(w, r)
	if !ok {
		return
	}
	client, ok := requireClient(w, r)
	if !ok {
		return
	}

	var out overviewResponse
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		out.Company, err = h.service.CompanyInfo(ctx, client, provider)
		return err
	})
	g.Go(func() error {
		var err error
		out.Accounts, err = h.service.ChartOfAccounts(ctx, client, provider)
		return err
	})
	g.Go(func() error {
		var err error
		out.Vendors, err = h.service.Vendors(ctx, client, provider)
		return err
	})
	g.Go(func() error {
		var err error
		out.Customers, err = h.service.Customers(ctx, client, provider)
		return err
	})
	if err := g.Wait(); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
