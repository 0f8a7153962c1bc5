package routegroups

import (
	"github.com/go-chi/chi/v5"

	"incident-desk/api/handlers"
)

func RegisterIncidents(apiRouter chi.Router, g Guards, incidents *handlers.IncidentsHandler) {
	apiRouter.Route("/incidents", func(incidentsRouter chi.Router) {
		incidentsRouter.MethodFunc("GET", "/", g.SessionPerm("incidents.view", incidents.List))
		incidentsRouter.MethodFunc("POST", "/", g.SessionPerm("incidents.edit", incidents.Create))
		incidentsRouter.MethodFunc("GET", "/{id}", g.SessionPerm("incidents.view", incidents.Get))
		incidentsRouter.MethodFunc("PATCH", "/{id}", g.SessionPerm("incidents.edit", incidents.Update))
		incidentsRouter.MethodFunc("DELETE", "/{id}", g.SessionPerm("incidents.delete", incidents.Delete))
		incidentsRouter.MethodFunc("GET", "/{id}/timeline", g.SessionPerm("incidents.view", incidents.Timeline))
		incidentsRouter.MethodFunc("POST", "/{id}/draft", g.SessionPerm("incidents.edit", incidents.Edit))
		incidentsRouter.MethodFunc("GET", "/{id}/draft", g.SessionPerm("incidents.edit", incidents.GetDraft))
		incidentsRouter.MethodFunc("PATCH", "/{id}/draft", g.SessionPerm("incidents.edit", incidents.PatchDraft))
		incidentsRouter.MethodFunc("DELETE", "/{id}/draft", g.SessionPerm("incidents.edit", incidents.DiscardDraft))
		incidentsRouter.MethodFunc("POST", "/{id}/draft/activate", g.SessionPerm("incidents.edit", incidents.Activate))
	})
	apiRouter.MethodFunc("GET", "/drafts", g.SessionPerm("incidents.edit", incidents.ListDrafts))
}

func RegisterCustomers(apiRouter chi.Router, g Guards, customers *handlers.CustomersHandler) {
	apiRouter.Route("/customers", func(customersRouter chi.Router) {
		customersRouter.MethodFunc("GET", "/", g.SessionPerm("customers.view", customers.List))
		customersRouter.MethodFunc("GET", "/{id}", g.SessionPerm("customers.view", customers.Get))
	})
}
