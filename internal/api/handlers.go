package api

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"simagg/adapters/excel"
	"simagg/domain/experiment"
	"simagg/internal/errors"
	"simagg/internal/params"
)

// Float is a float64 that encodes NaN and infinities as JSON null
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func floats(vals []float64) []Float {
	out := make([]Float, len(vals))
	for i, v := range vals {
		out[i] = Float(v)
	}
	return out
}

type runSummary struct {
	Source  string           `json:"source"`
	Params  map[string]Float `json:"params"`
	Seed    Float            `json:"seed"`
	Columns []string         `json:"columns"`
	Rows    int              `json:"rows"`
}

type convergenceRow struct {
	Group map[string]Float `json:"group"`
	Mean  Float            `json:"mean"`
	Min   Float            `json:"min"`
	Max   Float            `json:"max"`
	Runs  int              `json:"runs"`
}

type convergenceResponse struct {
	Batch   *experiment.ConvergenceBatch `json:"batch"`
	Records []convergenceRow             `json:"records"`
}

type aggregateResponse struct {
	Experiment string   `json:"experiment"`
	Variable   string   `json:"variable"`
	Axes       []string `json:"axes"`
	Shape      []int    `json:"shape"`
	Time       []Float  `json:"time,omitempty"`
	Mean       []Float  `json:"mean"`
	Std        []Float  `json:"std"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"experiments": s.queries.Experiments()})
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	l, err := s.queries.Loader(r.Context(), chi.URLParam(r, "experiment"))
	if err != nil {
		writeError(w, err)
		return
	}
	configs := l.Configurations()
	out := make([]map[string]Float, len(configs))
	for i, c := range configs {
		out[i] = floatMap(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"parameters":     l.ParamNames(),
		"configurations": out,
	})
}

func (s *Server) handleExactLookup(w http.ResponseWriter, r *http.Request) {
	values, err := numericQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.queries.Lookup(r.Context(), chi.URLParam(r, "experiment"), values)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": summarize(runs)})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	filters, err := numericQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.queries.Filter(r.Context(), chi.URLParam(r, "experiment"), filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": summarize(runs)})
}

func (s *Server) handleCombinedTable(w http.ResponseWriter, r *http.Request) {
	filters, err := numericQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := chi.URLParam(r, "experiment")
	table, err := s.queries.CombinedTable(r.Context(), name, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
	if err := excel.WriteTableCSV(w, table); err != nil {
		log.Printf("[API] ⚠️ Failed to stream table for %s: %v", name, err)
	}
}

func (s *Server) handleConvergence(w http.ResponseWriter, r *http.Request) {
	opts := s.queries.ConvergenceOptions()
	q := r.URL.Query()
	if m := q.Get("metric"); m != "" {
		opts.Metric = m
	}
	if t := q.Get("threshold"); t != "" {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			writeError(w, errors.InvalidInput(fmt.Sprintf("invalid threshold %q", t)))
			return
		}
		opts.Threshold = v
	}
	if g, ok := q["group_by"]; ok {
		opts.GroupBy = splitList(g)
	}

	batch, records, err := s.queries.Convergence(r.Context(), chi.URLParam(r, "experiment"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convergenceResponse{Batch: batch, Records: convergenceRows(records)})
}

func (s *Server) handleLatestConvergence(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = s.queries.ConvergenceOptions().Metric
	}
	batch, records, err := s.queries.StoredConvergence(r.Context(), chi.URLParam(r, "experiment"), metric)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convergenceResponse{Batch: batch, Records: convergenceRows(records)})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	if s.aggregates == nil {
		writeError(w, errors.NotFound("aggregate service"))
		return
	}
	name := chi.URLParam(r, "experiment")
	variable := chi.URLParam(r, "variable")

	result, err := s.aggregateResult(r.Context(), false)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, ok := result.Entries[name]
	if !ok {
		writeError(w, errors.NotFound(fmt.Sprintf("aggregates for experiment %s", name)))
		return
	}

	coords := map[string]experiment.Value{}
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			coords[key] = params.Coerce(vals[0])
		}
	}
	mean, err := entry.Mean.Sel(coords)
	if err != nil {
		writeError(w, err)
		return
	}
	std, err := entry.Std.Sel(coords)
	if err != nil {
		writeError(w, err)
		return
	}
	m, ok := mean.Vars[variable]
	if !ok {
		writeError(w, errors.NotFound(fmt.Sprintf("variable %s", variable)))
		return
	}

	resp := aggregateResponse{
		Experiment: name,
		Variable:   variable,
		Axes:       mean.AxisNames(),
		Shape:      mean.Shape(),
		Mean:       floats(m),
		Std:        floats(std.Vars[variable]),
	}
	if axis, _, ok := mean.Axis(s.queries.TimeColumn()); ok {
		resp.Time = floats(axis.Floats())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "experiment")
	s.queries.Reload(name)
	if _, err := s.queries.Loader(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if s.aggregates == nil {
		writeError(w, errors.NotFound("aggregate service"))
		return
	}
	result, err := s.aggregateResult(r.Context(), r.URL.Query().Get("force") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, 0, len(result.Entries))
	for n := range result.Entries {
		names = append(names, n)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"experiments": names,
		"from_cache":  result.FromCache,
		"batch_id":    result.BatchID,
	})
}

func summarize(runs []*experiment.Run) []runSummary {
	out := make([]runSummary, len(runs))
	for i, r := range runs {
		ps := map[string]Float{}
		for name, v := range r.Params {
			ps[name] = Float(v.Float64())
		}
		out[i] = runSummary{
			Source:  filepath.Base(r.Source),
			Params:  ps,
			Seed:    Float(r.Seed),
			Columns: r.Columns,
			Rows:    r.Len(),
		}
	}
	return out
}

func convergenceRows(records []experiment.ConvergenceRecord) []convergenceRow {
	out := make([]convergenceRow, len(records))
	for i, rec := range records {
		group := make(map[string]Float, len(rec.GroupBy))
		for j, name := range rec.GroupBy {
			group[name] = Float(rec.Values[j])
		}
		out[i] = convergenceRow{
			Group: group,
			Mean:  Float(rec.Mean),
			Min:   Float(rec.Min),
			Max:   Float(rec.Max),
			Runs:  rec.Runs,
		}
	}
	return out
}

func floatMap(m map[string]float64) map[string]Float {
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

// numericQuery reads every query parameter as a float
func numericQuery(r *http.Request) (map[string]float64, error) {
	out := map[string]float64{}
	for key, vals := range r.URL.Query() {
		if len(vals) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(vals[0], 64)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("parameter %s: %q is not a number", key, vals[0]))
		}
		out[key] = v
	}
	return out, nil
}

func splitList(vals []string) []string {
	out := []string{}
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeMissingParameter, errors.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
