package gateway

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// restrictToCallbackOrigins rejects requests whose remote address doesn't
// fall within cfg.CallbackCIDRs — loopback and the container runtime's
// bridge network by default — so the status callback endpoint can't be hit
// from outside the host (spec §4.10 Expansion note).
func (s *Server) restrictToCallbackOrigins(next http.Handler) http.Handler {
	nets := s.parsedCallbackCIDRs()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ipAllowed(ip, nets) {
			writeError(w, core.ErrCallbackUnauthorized(r.RemoteAddr))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) parsedCallbackCIDRs() []*net.IPNet {
	cidrs := s.cfg.CallbackCIDRs
	if len(cidrs) == 0 {
		cidrs = []string{"127.0.0.0/8", "::1/128"}
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			s.logger.Warn("gateway: ignoring invalid callback CIDR", "cidr", c, "error", err)
			continue
		}
		nets = append(nets, n)
	}
	return nets
}

func ipAllowed(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

type callbackRequest struct {
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Branch   string `json:"branch,omitempty"`
	Commit   string `json:"commit,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// handleCallback applies a container's self-reported task outcome. The
// container addresses itself by worker_id/task_id query parameters baked
// into ContainerSpec.CallbackURL at dispatch time; the body carries the
// outcome.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	taskID := r.URL.Query().Get("task_id")

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrValidation("INVALID_BODY", err.Error()))
		return
	}
	if workerID == "" {
		workerID = req.WorkerID
	}
	if taskID == "" {
		taskID = req.TaskID
	}

	if err := s.tasks.HandleCallback(r.Context(), core.WorkerID(workerID), core.TaskID(taskID), req.Status, req.Branch, req.Commit, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
