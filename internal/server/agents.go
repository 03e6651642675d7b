package server

import (
	"errors"
	"net/http"

	"github.com/ssd-technologies/gitagent/internal/identity"
	"github.com/ssd-technologies/gitagent/internal/orchestrator"
	"github.com/ssd-technologies/gitagent/internal/vault"
)

// identityRef names an agent either by hash or by (repo_url, branch_name).
type identityRef struct {
	BranchHash string `json:"branch_hash"`
	RepoURL    string `json:"repo_url"`
	BranchName string `json:"branch_name"`
}

func (i identityRef) hash() string {
	if i.BranchHash == "" && i.RepoURL != "" && i.BranchName != "" {
		return identity.Hash(i.RepoURL, i.BranchName)
	}
	return i.BranchHash
}

type saveSecretRequest struct {
	identityRef
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleSaveSecret(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var req saveSecretRequest
	if !decodeBody(w, r, &req) {
		return
	}
	hash := req.hash()
	if hash == "" || req.Key == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "Missing branch_hash (or repo_url+branch_name), key, or value")
		return
	}
	if err := vault.Check(req.Key, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agent, ok := s.agentByHash(w, hash)
	if !ok {
		return
	}
	if err := s.secrets.Save(agent.ID, req.Key, req.Value); err != nil {
		if errors.Is(err, vault.ErrInvalidSecret) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("save secret", "branch_hash", hash, "key", req.Key, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Secret " + req.Key + " saved"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.db.ListAgents(r.URL.Query().Get("repo_url"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent})
}

func (s *Server) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	hash := r.PathValue("hash")
	agent, err := s.deployer.Restart(r.Context(), hash)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, "Agent not found")
	case errors.Is(err, orchestrator.ErrWorkspaceMissing):
		writeError(w, http.StatusNotFound, "Agent directory not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Agent restarted", "agent": agent})
	}
}

func (s *Server) handleListSecretKeys(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	agent, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	keys, err := s.db.ListSecretKeys(agent.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}
