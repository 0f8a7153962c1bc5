package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"incident-desk/core/incidents"
	"incident-desk/core/store"
	"incident-desk/core/utils"
)

type IncidentsHandler struct {
	svc    *incidents.Service
	logger *utils.Logger
}

func NewIncidentsHandler(svc *incidents.Service, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{svc: svc, logger: logger}
}

type incidentDTO struct {
	store.Incident
	StatusName  string `json:"status_name"`
	UrgencyName string `json:"urgency_name,omitempty"`
}

func toDTO(inc store.Incident) incidentDTO {
	return incidentDTO{
		Incident:    inc,
		StatusName:  store.StatusNames[inc.StatusCode],
		UrgencyName: store.UrgencyNames[inc.UrgencyCode],
	}
}

func toDTOs(items []store.Incident) []incidentDTO {
	out := make([]incidentDTO, 0, len(items))
	for _, inc := range items {
		out = append(out, toDTO(inc))
	}
	return out
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.IncidentFilter{
		Search:     q.Get("q"),
		Status:     strings.ToUpper(strings.TrimSpace(q.Get("status"))),
		Urgency:    strings.ToUpper(strings.TrimSpace(q.Get("urgency"))),
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		Limit:      parseIntDefault(q.Get("limit"), 0),
		Offset:     parseIntDefault(q.Get("offset"), 0),
	}
	items, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toDTOs(items)})
}

// Create accepts a single incident object or an array of them. An array is
// created all-or-nothing.
func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	batch := bytes.HasPrefix(bytes.TrimSpace(raw), []byte("["))
	var inputs []incidents.CreateInput
	if batch {
		if err := decodeBytes(raw, &inputs); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	} else {
		var in incidents.CreateInput
		if err := decodeBytes(raw, &in); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		inputs = []incidents.CreateInput{in}
	}
	items, err := h.svc.Create(r.Context(), currentUser(r), inputs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if batch {
		writeJSON(w, http.StatusCreated, map[string]any{"items": toDTOs(items)})
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(items[0]))
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.Get(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(*inc))
}

func (h *IncidentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch incidents.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	inc, err := h.svc.Update(r.Context(), currentUser(r), pathID(r), patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(*inc))
}

func (h *IncidentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), currentUser(r), pathID(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IncidentsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Timeline(r.Context(), pathID(r), parseIntDefault(r.URL.Query().Get("limit"), 100))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []store.IncidentTimelineEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	draft, err := h.svc.Edit(r.Context(), currentUser(r), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(*draft))
}

func (h *IncidentsHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.svc.GetDraft(r.Context(), currentUser(r), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(*draft))
}

func (h *IncidentsHandler) PatchDraft(w http.ResponseWriter, r *http.Request) {
	var patch incidents.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	draft, err := h.svc.PatchDraft(r.Context(), currentUser(r), pathID(r), patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(*draft))
}

func (h *IncidentsHandler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Discard(r.Context(), currentUser(r), pathID(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IncidentsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.Activate(r.Context(), currentUser(r), pathID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(*inc))
}

func (h *IncidentsHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListDrafts(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toDTOs(items)})
}
