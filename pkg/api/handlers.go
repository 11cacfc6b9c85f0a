package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/profile"
	"github.com/psaab/nicqos/pkg/stats"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

// applyStatus maps a profile application error to an HTTP status.
func applyStatus(err error) int {
	if errors.Is(err, profile.ErrInvalidProfile) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	if err := s.adapter.RegisterErr(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:          s.adapter.Status(),
		DataplaneLoaded: s.dp != nil && s.dp.IsLoaded(),
	}
	if s.store != nil {
		resp.ActiveConfig = s.store.ActiveConfig().Gaming.ActiveProfile
	}
	writeOK(w, resp)
}

func gaugeStats(g stats.Gauge) GaugeStats {
	return GaugeStats{Current: g.Current, Average: g.Average, Peak: g.Peak, Samples: g.Samples}
}

// NewStatisticsResponse flattens a statistics snapshot for the wire.
func NewStatisticsResponse(snap stats.Snapshot) StatisticsResponse {
	resp := StatisticsResponse{
		Transmit: DirectionStats{
			Packets:    snap.TotalPacketsSent,
			Bytes:      snap.BytesSent,
			HighPrio:   snap.HighPriorityPacketsSent,
			LowLatency: snap.LowLatencyPacketsSent,
		},
		Receive: DirectionStats{
			Packets:    snap.TotalPacketsReceived,
			Bytes:      snap.BytesReceived,
			HighPrio:   snap.HighPriorityPacketsReceived,
			LowLatency: snap.LowLatencyPacketsReceived,
		},
		Classes:       make(map[string]uint64, classify.NumClasses),
		PrioritySent:  make(map[string]uint64, classify.NumPriorities),
		LatencyMs:     gaugeStats(snap.LatencyMs),
		BandwidthKbps: gaugeStats(snap.BandwidthKbps),
	}
	for _, c := range classify.Classes() {
		resp.Classes[c.String()] = snap.ClassPackets[c]
	}
	for p := classify.PriorityLowest; p < classify.NumPriorities; p++ {
		resp.PrioritySent[p.String()] = snap.PrioritySent[p]
	}
	return resp
}

func (s *Server) statisticsHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, NewStatisticsResponse(s.adapter.PerformanceStats()))
}

func (s *Server) profileHandler(w http.ResponseWriter, _ *http.Request) {
	p := s.adapter.ActiveProfile()
	writeOK(w, ProfileResponse{
		DisplayName: p.DisplayName(),
		Profile:     p,
		Generation:  s.adapter.Status().Generation,
	})
}

func (s *Server) profileHistoryHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.adapter.ProfileHistory())
}

// resolveProfile looks name up in the configuration, falling back to the
// built-in kinds when no store is attached.
func (s *Server) resolveProfile(name string) (profile.GamingProfile, error) {
	if s.store != nil {
		return s.store.ActiveConfig().ResolveProfile(name)
	}
	k, err := profile.ParseKind(name)
	if err != nil {
		return profile.GamingProfile{}, err
	}
	return profile.ForKind(k), nil
}

func (s *Server) applyProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (req.Name == "") == (req.Profile == nil) {
		writeError(w, http.StatusBadRequest, "exactly one of name or profile is required")
		return
	}

	p := profile.GamingProfile{}
	if req.Profile != nil {
		p = *req.Profile
	} else {
		var err error
		if p, err = s.resolveProfile(req.Name); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	}

	res, err := s.adapter.ApplyProfile(p)
	if err != nil {
		writeError(w, applyStatus(err), err.Error())
		return
	}
	if req.Name != "" && s.store != nil {
		if err := s.store.SetActiveProfile(req.Name); err != nil {
			slog.Warn("failed to record active profile", "profile", req.Name, "err", err)
		}
	}
	writeOK(w, res)
}

func (s *Server) rollbackHandler(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	res, err := s.adapter.Rollback(req.N)
	if err != nil {
		status := applyStatus(err)
		if req.N < 0 || len(s.adapter.ProfileHistory()) <= req.N {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeOK(w, res)
}

func (s *Server) featureHandler(w http.ResponseWriter, r *http.Request) {
	f, err := profile.ParseFeature(r.PathValue("feature"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req FeatureRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.adapter.SetFeature(f, req.Enable)
	if err != nil {
		writeError(w, applyStatus(err), err.Error())
		return
	}
	writeOK(w, res)
}

func (s *Server) restartHandler(w http.ResponseWriter, _ *http.Request) {
	res, err := s.adapter.Restart()
	if errors.Is(err, adapter.ErrRingsBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, res)
}

func parsePort(q string) (uint16, error) {
	if q == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(q, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", q)
	}
	return uint16(v), nil
}

func (s *Server) classifyHandler(w http.ResponseWriter, r *http.Request) {
	src, err := parsePort(r.URL.Query().Get("src"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dst, err := parsePort(r.URL.Query().Get("dst"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, p := s.adapter.Classify(src, dst)
	writeOK(w, ClassifyResponse{
		SrcPort:  src,
		DstPort:  dst,
		Class:    c.String(),
		Priority: p.String(),
		DSCP:     p.DSCP(),
	})
}

func (s *Server) registersHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.adapter.Registers())
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusServiceUnavailable, "log buffer not available")
		return
	}
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	level := slog.LevelDebug
	if v := r.URL.Query().Get("level"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	records := s.recent.Latest(n, level)
	entries := make([]LogEntry, len(records))
	for i, rec := range records {
		entries[i] = LogEntry{
			Time:    rec.Time.Format(time.RFC3339Nano),
			Level:   rec.Level.String(),
			Message: rec.Message,
			Attrs:   rec.Attrs,
		}
	}
	writeOK(w, entries)
}
