package api

import "incident-desk/api/handlers"

type routeHandlers struct {
	incidents *handlers.IncidentsHandler
	customers *handlers.CustomersHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		incidents: handlers.NewIncidentsHandler(s.incidentsSvc, s.logger),
		customers: handlers.NewCustomersHandler(s.incidentsSvc, s.logger),
	}
}
