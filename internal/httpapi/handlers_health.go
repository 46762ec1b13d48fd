package httpapi

import "net/http"

// handleHealth reports liveness plus the status.json projection and config
// validity, so external tooling can diagnose a half-up server.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.project.Status().Current()
	configErrors := s.cfg.Validate()

	resp := map[string]any{
		"status":        "ok",
		"server_status": st.ServerStatus,
		"config_valid":  len(configErrors) == 0,
	}
	if st.Port != 0 {
		resp["port"] = st.Port
	}
	if st.ServerPID != 0 {
		resp["pid"] = st.ServerPID
	}
	if st.ServerError != "" {
		resp["server_error"] = st.ServerError
	}
	if len(configErrors) > 0 {
		resp["config_errors"] = configErrors
	}
	writeJSON(w, http.StatusOK, resp)
}
