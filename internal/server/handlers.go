package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// writeJSON serializes a response body with the standard headers.
func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func floatParam(r *http.Request, name string, def float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// handleHealth reports liveness plus a small operational snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats := s.kg.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"sources":     s.collector.Sources(),
		"graph_nodes": stats.NumNodes,
		"graph_edges": stats.NumEdges,
		"ws_clients":  s.hub.ClientCount(),
	})
}

// handleAnalyze triggers a collect-and-analyze cycle immediately and
// returns the completed result.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cycleID, err := s.runCycle(r.Context(), "manual")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := s.pipe.Latest()
	if result == nil || result.CycleID != cycleID {
		writeError(w, http.StatusInternalServerError, "cycle result unavailable")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLatestAnalysis returns the most recent completed cycle.
func (s *Server) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result := s.pipe.Latest()
	if result == nil {
		writeError(w, http.StatusNotFound, "no analysis has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.kg.Stats())
}

func (s *Server) handleGraphExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.kg.ExportGraph())
}

func (s *Server) handleGraphRelated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("anomaly_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "anomaly_id is required")
		return
	}

	related := s.kg.FindRelated(id,
		intParam(r, "max_distance", 2),
		floatParam(r, "min_confidence", 0.5))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomaly_id": id,
		"related":    related,
		"count":      len(related),
	})
}

func (s *Server) handleGraphCausalChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	start := r.URL.Query().Get("start")
	target := r.URL.Query().Get("target")
	if start == "" || target == "" {
		writeError(w, http.StatusBadRequest, "start and target are required")
		return
	}

	chains := s.kg.FindCausalChain(start, target, intParam(r, "max_length", 5))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"start":  start,
		"target": target,
		"chains": chains,
		"count":  len(chains),
	})
}

func (s *Server) handleGraphSimilar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("anomaly_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "anomaly_id is required")
		return
	}

	similar := s.kg.FindSimilar(id, intParam(r, "top_k", 5))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomaly_id": id,
		"similar":    similar,
		"count":      len(similar),
	})
}

func (s *Server) handleGraphContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("anomaly_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "anomaly_id is required")
		return
	}

	ctx, ok := s.kg.GetContext(id)
	if !ok {
		writeError(w, http.StatusNotFound, "anomaly not found")
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (s *Server) handleGraphRootCause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := r.URL.Query().Get("anomaly_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "anomaly_id is required")
		return
	}
	if _, ok := s.kg.NodeByID(id); !ok {
		writeError(w, http.StatusNotFound, "anomaly not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root_cause": s.tracer.TraceRootCause(id),
		"downstream": s.tracer.TraceDownstream(id, intParam(r, "max_depth", 3)),
		"narrative":  s.tracer.Narrative(id),
	})
}

func (s *Server) handleGraphCascades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	window := time.Duration(intParam(r, "window_minutes", 10)) * time.Minute
	cascades := s.tracer.FindCascades(window, intParam(r, "min_anomalies", 3))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cascades": cascades,
		"count":    len(cascades),
	})
}
