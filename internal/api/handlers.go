package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/httputil"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/protocol"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/tracker"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/version"
)

const defaultHistoryLimit = 50

// statusResponse adds build information to the tracker status.
type statusResponse struct {
	tracker.Status
	BuildVersion string `json:"build_version"`
	GitSHA       string `json:"git_sha"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		Status:       s.t.Status(),
		BuildVersion: version.Version,
		GitSHA:       version.GitSHA,
	})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if raw := r.URL.Query().Get("id"); raw != "" {
		id64, err := protocol.ParseID64(raw)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		d, err := s.t.Device(id64)
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		httputil.WriteJSONOK(w, d)
		return
	}
	httputil.WriteJSONOK(w, s.t.Devices())
}

func (s *Server) joinDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id64, err := deviceID(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	fast := 1
	if raw := r.FormValue("fast"); raw != "" {
		fast, err = strconv.Atoi(raw)
		if err != nil || fast < 1 || fast > 0xFFFF {
			httputil.BadRequest(w, "invalid 'fast' parameter")
			return
		}
	}
	imu, err := formBool(r, "imu", false)
	if err != nil {
		httputil.BadRequest(w, "invalid 'imu' parameter")
		return
	}
	if err := s.t.Join(id64, fast, imu); err != nil {
		writeTrackerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"id64": protocol.FormatID64(id64), "fast_rate": fast, "imu": imu})
}

func (s *Server) leaveDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id64, err := deviceID(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.t.Leave(id64); err != nil {
		writeTrackerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"id64": protocol.FormatID64(id64)})
}

func (s *Server) removeDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id64, err := deviceID(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.t.Remove(id64); err != nil {
		writeTrackerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"id64": protocol.FormatID64(id64)})
}

func (s *Server) setSmoothing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]bool{"enabled": s.t.Status().Smoothing})
	case http.MethodPost:
		on, err := strconv.ParseBool(r.FormValue("enabled"))
		if err != nil {
			httputil.BadRequest(w, "invalid 'enabled' parameter")
			return
		}
		s.t.SetSmoothing(on)
		httputil.WriteJSONOK(w, map[string]bool{"enabled": on})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.t.Calibration())
}

func (s *Server) armCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id64, err := deviceID(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	distance, err := strconv.ParseFloat(r.FormValue("distance"), 64)
	if err != nil {
		httputil.BadRequest(w, "invalid 'distance' parameter")
		return
	}
	if err := s.t.ArmCalibration(id64, distance); err != nil {
		writeTrackerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.t.Calibration())
}

func (s *Server) cancelCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"cancelled": s.t.CancelCalibration()})
}

func (s *Server) calibrationHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		writeTrackerError(w, tracker.ErrNoStore)
		return
	}
	limit, err := limitParam(r, defaultHistoryLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	offsets, err := s.db.CalibrationOffsets(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve calibration history: %v", err))
		return
	}
	httputil.WriteJSONOK(w, offsets)
}

func (s *Server) restoreCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	c, err := s.t.RestoreCalibration(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, c)
}

func (s *Server) rangeLog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.db == nil {
			writeTrackerError(w, tracker.ErrNoStore)
			return
		}
		limit, err := limitParam(r, defaultHistoryLimit)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		var id string
		if raw := r.URL.Query().Get("id"); raw != "" {
			id64, err := protocol.ParseID64(raw)
			if err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
			id = protocol.FormatID64(id64)
		}
		entries, err := s.db.RangeEntries(r.Context(), id, limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve range log: %v", err))
			return
		}
		httputil.WriteJSONOK(w, entries)
	case http.MethodPost:
		on, err := strconv.ParseBool(r.FormValue("enabled"))
		if err != nil {
			httputil.BadRequest(w, "invalid 'enabled' parameter")
			return
		}
		if err := s.t.SetRangeLog(on); err != nil {
			writeTrackerError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]bool{"enabled": on})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		writeTrackerError(w, tracker.ErrNoStore)
		return
	}
	limit, err := limitParam(r, defaultHistoryLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.db.LinkSessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve link sessions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing 'command' parameter")
		return
	}
	if err := s.t.SendCommand(command); err != nil {
		writeTrackerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"sent": command})
}
