package api

import "net/http"

// engineResponse is one entry of GET /engines.
type engineResponse struct {
	Type  string `json:"type"`
	Chart string `json:"chart"`
}

func (s *Server) handleListEngines(w http.ResponseWriter, r *http.Request) {
	engines := s.catalog.List()
	out := make([]engineResponse, len(engines))
	for i, e := range engines {
		out[i] = engineResponse{Type: e.Name, Chart: e.Chart}
	}
	s.writeJSON(w, http.StatusOK, out)
}
