package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/device-ledger/internal/ledger"
)

// handleOwnerDeviceCount returns how many devices an owner has registered.
// Unknown owners have a count of zero.
func (s *Server) handleOwnerDeviceCount(w http.ResponseWriter, r *http.Request) {
	owner, err := ledger.ParsePrincipal(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, "owner: "+err.Error())
		return
	}

	count, err := s.registry.DeviceCount(r.Context(), owner)
	if err != nil {
		s.logger.Error("counting devices failed", "owner", owner, "error", err)
		writeInternalError(w, "failed to count devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner": owner,
		"count": count,
	})
}

// handleListOwnerDevices lists an owner's devices in registration order.
func (s *Server) handleListOwnerDevices(w http.ResponseWriter, r *http.Request) {
	owner, err := ledger.ParsePrincipal(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, "owner: "+err.Error())
		return
	}

	devices, err := s.registry.DevicesOf(r.Context(), owner)
	if err != nil {
		s.logger.Error("listing devices failed", "owner", owner, "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":   owner,
		"devices": devices,
		"count":   len(devices),
	})
}

// handleLedgerInfo returns the admin principal and the authenticated caller.
func (s *Server) handleLedgerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"admin":  s.registry.Admin(),
		"caller": callerFrom(r.Context()),
	})
}
