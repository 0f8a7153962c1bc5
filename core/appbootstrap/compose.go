package appbootstrap

import (
	"database/sql"

	"incident-desk/api"
	"incident-desk/config"
	"incident-desk/core/incidents"
	"incident-desk/core/rbac"
	"incident-desk/core/rules"
	"incident-desk/core/store"
	"incident-desk/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) *runtimeComposition {
	dialect := store.DialectFromConfig(cfg)
	incidentsStore := store.NewIncidentsStore(db, dialect)
	draftsStore := store.NewDraftsStore(db, dialect)
	customersStore := store.NewCustomersStore(db, dialect)
	transactor := store.NewTransactor(db, dialect)
	pipeline := rules.NewDefaultPipeline(logger.With("component", "rules"))

	incidentsSvc := incidents.NewService(cfg, transactor, incidentsStore, draftsStore, customersStore, pipeline, logger)
	sweeper := incidents.NewDraftSweeper(cfg.Drafts, incidentsSvc, logger.With("component", "draft-sweeper"))

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			IncidentsSvc: incidentsSvc,
			Policy:       rbac.NewPolicy(rbac.DefaultRoles()),
		},
		workers: []api.BackgroundWorker{sweeper},
	}
}
