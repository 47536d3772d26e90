package main

import (
	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/infrastructure/crypto"
	"ledgerlink/internal/infrastructure/postgres"
	"ledgerlink/internal/infrastructure/quickbooks"
	"ledgerlink/internal/infrastructure/xero"
	httphandlers "ledgerlink/internal/interfaces/http"
	"ledgerlink/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB      *postgres.DB
	Service *connection.Service
	Handler *httphandlers.Handler
}

// NewDependencies wires the application together: database, token
// encryption, provider adapters, the connection registry, and the HTTP
// handlers on top.
func NewDependencies(cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	connRepo := postgres.NewConnectionRepository(db, encryptor)

	qb := quickbooks.New(quickbooks.Config{
		ClientID:     cfg.QuickBooks.ClientID,
		ClientSecret: cfg.QuickBooks.ClientSecret,
		Environment:  cfg.QuickBooks.Environment,
		PageSize:     cfg.QuickBooks.PageSize,
		Logger:       logger.Named("quickbooks"),
	})
	xr := xero.New(xero.Config{
		ClientID:     cfg.Xero.ClientID,
		ClientSecret: cfg.Xero.ClientSecret,
		Logger:       logger.Named("xero"),
	})

	registry := accounting.NewRegistry(qb, xr)

	service := connection.NewService(registry, connRepo, logger.Named("connection"))
	service.SetRefreshMargin(cfg.Connection.RefreshMargin)

	handler := httphandlers.NewHandler(service, httphandlers.Config{
		RedirectURIs: map[accounting.ProviderID]string{
			accounting.ProviderQuickBooks: cfg.QuickBooks.RedirectURI,
			accounting.ProviderXero:       cfg.Xero.RedirectURI,
		},
	}, logger.Named("http"))

	return &Dependencies{
		DB:      db,
		Service: service,
		Handler: handler,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
