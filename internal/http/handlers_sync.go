package http

import (
	"net/http"
)

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sync.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(st).Write(w)
}

// handleSync runs one pass. Offline and already-running passes are reported
// in the body with a 200, not as errors.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.Sync(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(res).Write(w)
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.ForceSync(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(res).Write(w)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.sync.Pull(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(countResponse{Count: n}).Write(w)
}
