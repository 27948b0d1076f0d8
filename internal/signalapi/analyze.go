package signalapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/beacon/internal/agent"
)

// Standalone analysis endpoints. Each is one agent call with its trace
// persisted for audit; none of them touches incident state.

func (a *API) handleAnalyzeAuthenticity(w http.ResponseWriter, r *http.Request) {
	var in agent.AuthenticityInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Text == "" {
		http.Error(w, `{"error":"kind and text are required"}`, http.StatusBadRequest)
		return
	}

	res, tr, err := agent.AnalyzeAuthenticity(r.Context(), a.ingestor.provider, a.ingestor.model, &in)
	if err != nil {
		a.logger.Error(r.Context(), err, "authenticity analysis failed")
		http.Error(w, `{"error":"analysis unavailable"}`, http.StatusBadGateway)
		return
	}
	a.persistAdhocTrace(r, tr)

	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMatchLocations(w http.ResponseWriter, r *http.Request) {
	var in agent.LocationMatchInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.NameA == "" || in.NameB == "" {
		http.Error(w, `{"error":"name_a and name_b are required"}`, http.StatusBadRequest)
		return
	}

	res, tr, err := agent.MatchLocations(r.Context(), a.ingestor.provider, a.ingestor.model, in.NameA, in.NameB)
	if err != nil {
		a.logger.Error(r.Context(), err, "location match failed")
		http.Error(w, `{"error":"analysis unavailable"}`, http.StatusBadGateway)
		return
	}
	a.persistAdhocTrace(r, tr)

	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGuideQA(w http.ResponseWriter, r *http.Request) {
	var in agent.GuideQAInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Question == "" || len(in.Excerpts) == 0 {
		http.Error(w, `{"error":"question and excerpts are required"}`, http.StatusBadRequest)
		return
	}

	res, tr, err := agent.AnswerFromGuide(r.Context(), a.ingestor.provider, a.ingestor.model, &in)
	if err != nil {
		a.logger.Error(r.Context(), err, "guide answer failed")
		http.Error(w, `{"error":"analysis unavailable"}`, http.StatusBadGateway)
		return
	}
	a.persistAdhocTrace(r, tr)

	writeJSON(w, http.StatusOK, res)
}

func (a *API) persistAdhocTrace(r *http.Request, tr *agent.Trace) {
	if err := a.store.InsertTrace(r.Context(), tr); err != nil {
		a.logger.Warn(r.Context(), "failed to persist analysis trace",
			"step", tr.Step, "error", err.Error())
	}
}
