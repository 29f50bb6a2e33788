package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type addVoterRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
}

type clusterStatsResponse struct {
	Leader    string            `json:"leader"`
	IsLeader  bool              `json:"is_leader"`
	RaftStats map[string]string `json:"raft"`
}

func (s *Server) clusterStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, clusterStatsResponse{
		Leader:    s.cluster.LeaderAddr(),
		IsLeader:  s.cluster.IsLeader(),
		RaftStats: s.cluster.Stats(),
	})
}

func (s *Server) addVoter(w http.ResponseWriter, r *http.Request) {
	var req addVoterRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	req.NodeID = strings.TrimSpace(req.NodeID)
	req.RaftAddr = strings.TrimSpace(req.RaftAddr)
	if req.NodeID == "" || req.RaftAddr == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "node_id and raft_addr are required")
		return
	}
	if !s.cluster.IsLeader() {
		respondError(w, http.StatusServiceUnavailable, "NOT_LEADER", "leader is "+s.cluster.LeaderAddr())
		return
	}
	if err := s.cluster.AddVoter(r.Context(), req.NodeID, req.RaftAddr); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "added", "node_id": req.NodeID})
}

func (s *Server) removeVoter(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeId")
	if !s.cluster.IsLeader() {
		respondError(w, http.StatusServiceUnavailable, "NOT_LEADER", "leader is "+s.cluster.LeaderAddr())
		return
	}
	if err := s.cluster.RemoveServer(r.Context(), nodeID); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed", "node_id": nodeID})
}
