package handlers

import (
	"net/http"

	"incident-desk/core/incidents"
	"incident-desk/core/utils"
)

type CustomersHandler struct {
	svc    *incidents.Service
	logger *utils.Logger
}

func NewCustomersHandler(svc *incidents.Service, logger *utils.Logger) *CustomersHandler {
	return &CustomersHandler{svc: svc, logger: logger}
}

type customerDTO struct {
	ID        string        `json:"id"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Phone     string        `json:"phone,omitempty"`
	Incidents []incidentDTO `json:"incidents"`
}

func toCustomerDTO(v incidents.CustomerView) customerDTO {
	return customerDTO{
		ID:        v.ID,
		FirstName: v.FirstName,
		LastName:  v.LastName,
		Name:      v.FirstName + " " + v.LastName,
		Email:     v.Email,
		Phone:     v.Phone,
		Incidents: toDTOs(v.Incidents),
	}
}

func (h *CustomersHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Customers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]customerDTO, 0, len(items))
	for _, v := range items {
		out = append(out, toCustomerDTO(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *CustomersHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Customer(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*v))
}
