package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/device-ledger/internal/audit"
	"github.com/nerrad567/device-ledger/internal/ledger"
)

// registerRequest is the body of POST /devices.
type registerRequest struct {
	Owner string `json:"owner"`
}

// stateRequest is the body of PUT /devices/{id}/state.
type stateRequest struct {
	State *bool `json:"state"`
}

// DeviceStateResponse is returned by the state endpoints.
type DeviceStateResponse struct {
	DeviceID ledger.Principal `json:"device_id"`
	State    bool             `json:"state"`
}

// decodeJSON strictly decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleRegisterDevice enrols the caller as a device owned by the named owner.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.auditLog(r, audit.ActionRegister, caller, audit.OutcomeRejected, map[string]any{"error": err.Error()})
		writeBadRequest(w, err.Error())
		return
	}

	owner, err := ledger.ParsePrincipal(req.Owner)
	if err != nil {
		s.auditLog(r, audit.ActionRegister, caller, audit.OutcomeRejected, map[string]any{"error": err.Error()})
		writeBadRequest(w, "owner: "+err.Error())
		return
	}

	details := map[string]any{"owner": owner}
	if err := s.registry.RegisterDevice(r.Context(), caller, owner); err != nil {
		outcome := writeLedgerError(w, err)
		details["error"] = err.Error()
		s.auditLog(r, audit.ActionRegister, caller, outcome, details)
		if outcome == audit.OutcomeError {
			s.logger.Error("device registration failed", "device", caller, "error", err)
		}
		return
	}

	s.auditLog(r, audit.ActionRegister, caller, audit.OutcomeAccepted, details)
	writeJSON(w, http.StatusCreated, ledger.Device{
		ID:    caller,
		State: false,
		Owner: ledger.ClaimedBy(owner),
	})
}

// handleGetDeviceState returns a device's current state. Any caller may read it.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParsePrincipal(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "device id: "+err.Error())
		return
	}

	state, err := s.registry.GetState(r.Context(), id)
	if err != nil {
		if writeLedgerError(w, err) == audit.OutcomeError {
			s.logger.Error("reading device state failed", "device", id, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, DeviceStateResponse{DeviceID: id, State: state})
}

// handleChangeDeviceState sets a device's state on behalf of the caller.
func (s *Server) handleChangeDeviceState(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	id, err := ledger.ParsePrincipal(chi.URLParam(r, "id"))
	if err != nil {
		s.auditLog(r, audit.ActionChangeState, "", audit.OutcomeRejected, map[string]any{"error": err.Error()})
		writeBadRequest(w, "device id: "+err.Error())
		return
	}

	var req stateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.auditLog(r, audit.ActionChangeState, id, audit.OutcomeRejected, map[string]any{"error": err.Error()})
		writeBadRequest(w, err.Error())
		return
	}
	if req.State == nil {
		s.auditLog(r, audit.ActionChangeState, id, audit.OutcomeRejected, map[string]any{"error": "state is required"})
		writeBadRequest(w, "state is required")
		return
	}

	details := map[string]any{"new_state": *req.State}
	if err := s.registry.ChangeState(r.Context(), caller, id, *req.State); err != nil {
		outcome := writeLedgerError(w, err)
		details["error"] = err.Error()
		s.auditLog(r, audit.ActionChangeState, id, outcome, details)
		if outcome == audit.OutcomeError {
			s.logger.Error("changing device state failed", "device", id, "error", err)
		}
		return
	}

	s.auditLog(r, audit.ActionChangeState, id, audit.OutcomeAccepted, details)
	writeJSON(w, http.StatusOK, DeviceStateResponse{DeviceID: id, State: *req.State})
}

// handleListDeviceEvents returns a device's journalled state changes.
//
// Query parameters:
//   - after: only events with a greater sequence number
//   - limit: max results (default 50, max 200)
func (s *Server) handleListDeviceEvents(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParsePrincipal(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "device id: "+err.Error())
		return
	}

	filter := ledger.EventFilter{Device: id}
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		filter.AfterSeq, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "after must be an integer")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, err = strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}

	// An unknown device is a 404, not an empty journal.
	if _, err := s.registry.Device(r.Context(), id); err != nil {
		writeLedgerError(w, err)
		return
	}

	events, err := s.registry.Events(r.Context(), filter)
	if err != nil {
		s.logger.Error("reading journal failed", "device", id, "error", err)
		writeInternalError(w, "failed to read events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"events":    events,
	})
}
