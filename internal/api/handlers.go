package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mikeyg42/hypersight/internal/frames"
	"github.com/mikeyg42/hypersight/internal/storage"
	"github.com/mikeyg42/hypersight/internal/supervisor"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

// TimeFormat is used for timestamps in requests and responses. Stored
// timestamps already carry the camera's offset, so no zone is attached.
const TimeFormat = "2006-01-02 15:04:05.0"

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) map[string]any {
	return map[string]any{"err": true, "msg": msg}
}

// parseTime accepts TimeFormat with any number of fractional digits, or
// RFC 3339
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q, want %q", s, TimeFormat)
	}
	return t.UTC(), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("Health check failed", watchlog.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cameraStatus struct {
	Watching bool   `json:"watching"`
	URL      string `json:"url"`
	State    string `json:"state,omitempty"`
	Restarts int    `json:"restarts,omitempty"`
	Stats    any    `json:"stats,omitempty"`
}

// handleStatus lists every camera keyed by id with its watcher state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cams, err := s.deps.Store.ListCameras(r.Context())
	if err != nil {
		s.logger.Error("Failed to list cameras", watchlog.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list cameras"))
		return
	}

	result := make(map[string]any, len(cams)+1)
	for _, cam := range cams {
		result[strconv.FormatInt(cam.ID, 10)] = &cameraStatus{URL: cam.StreamURL}
	}
	if s.deps.Status != nil {
		for _, st := range s.deps.Status.Status() {
			cs, ok := result[strconv.FormatInt(st.CameraID, 10)].(*cameraStatus)
			if !ok {
				continue
			}
			cs.State = st.State
			cs.Restarts = st.Restarts
			cs.Watching = st.State == supervisor.StateRunning || st.State == supervisor.StateRestarting
			if st.Stats != nil {
				cs.Stats = st.Stats
			}
		}
	}
	result["err"] = false
	writeJSON(w, http.StatusOK, result)
}

type trafficRequest struct {
	ProcID  int64  `json:"proc_id"`
	StartTS string `json:"start_ts"`
	StopTS  string `json:"stop_ts"`
}

// handleTraffic sums a traffic processor's entries in (start_ts, stop_ts].
// stop_ts defaults to now.
func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	var req trafficRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.ProcID == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("proc_id is required"))
		return
	}
	if req.StartTS == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("start_ts is required"))
		return
	}
	from, err := parseTime(req.StartTS)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	to := s.now().UTC()
	if req.StopTS != "" {
		if to, err = parseTime(req.StopTS); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
	}

	if !s.processorIs(w, r, req.ProcID, storage.KindTraffic) {
		return
	}

	sum, err := s.deps.Store.TrafficSum(r.Context(), req.ProcID, from, to)
	if err != nil {
		s.logger.Error("Traffic query failed", watchlog.Int64("processor_id", req.ProcID), watchlog.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("query failed"))
		return
	}
	if sum.Count == 0 {
		writeJSON(w, http.StatusOK, errorBody("No records found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traffic": int64(sum.Total),
		"min_ts":  sum.MinTS.UTC().Format(TimeFormat),
		"max_ts":  sum.MaxTS.UTC().Format(TimeFormat),
		"err":     false,
	})
}

type objectsRequest struct {
	ProcID int64  `json:"proc_id"`
	TS     string `json:"ts"`
}

// handleObjects returns the latest object count at or before ts (default now)
func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	var req objectsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.ProcID == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("proc_id is required"))
		return
	}
	at := s.now().UTC()
	if req.TS != "" {
		var err error
		if at, err = parseTime(req.TS); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
	}

	if !s.processorIs(w, r, req.ProcID, storage.KindObjects) {
		return
	}

	ev, err := s.deps.Store.LatestEvent(r.Context(), req.ProcID, at)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, errorBody("No observations found"))
		return
	}
	if err != nil {
		s.logger.Error("Objects query failed", watchlog.Int64("processor_id", req.ProcID), watchlog.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("query failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": int64(ev.Value),
		"ts":    ev.Timestamp.UTC().Format(TimeFormat),
		"err":   false,
	})
}

type frameRequest struct {
	CameraID int64 `json:"camera_id"`
}

// handleFrame grabs one frame from the camera's stream and returns where it
// was stored along with its size.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.CameraID == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("camera_id is required"))
		return
	}
	if s.deps.Frames == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("Frame storage is not configured"))
		return
	}

	cam, err := s.deps.Store.GetCamera(r.Context(), req.CameraID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, errorBody("Wrong camera id"))
		return
	}
	if err != nil {
		s.logger.Error("Camera lookup failed", watchlog.Int64("camera_id", req.CameraID), watchlog.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("query failed"))
		return
	}

	snap, err := s.deps.Frames.Grab(r.Context(), cam.ID, cam.StreamURL)
	if errors.Is(err, frames.ErrNoFrame) {
		s.logger.Warn("Camera did not return a frame", watchlog.Int64("camera_id", cam.ID), watchlog.Error(err))
		writeJSON(w, http.StatusOK, errorBody("Camera does not respond"))
		return
	}
	if err != nil {
		s.logger.Error("Frame grab failed", watchlog.Int64("camera_id", cam.ID), watchlog.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to store frame"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   snap.Key,
		"height": snap.Height,
		"width":  snap.Width,
		"err":    false,
	})
}

// processorIs writes the error response itself and returns false when the
// processor is missing or of another kind
func (s *Server) processorIs(w http.ResponseWriter, r *http.Request, id int64, kind storage.ProcessorKind) bool {
	pc, err := s.deps.Store.GetProcessor(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && pc.Kind != kind) {
		writeJSON(w, http.StatusOK, errorBody("Wrong processor id"))
		return false
	}
	if err != nil {
		s.logger.Error("Processor lookup failed", watchlog.Int64("processor_id", id), watchlog.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("query failed"))
		return false
	}
	return true
}
