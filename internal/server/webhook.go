package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ssd-technologies/gitagent/internal/identity"
)

// pushEvent is the subset of a GitHub push payload the pipeline needs.
type pushEvent struct {
	Ref        string `json:"ref"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
}

// webhookAck is the body of every acknowledged delivery.
type webhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
	JobID    string `json:"job_id,omitempty"`
	Hash     string `json:"branch_hash,omitempty"`
}

// handleWebhook acknowledges a delivery and queues the deploy. The pipeline
// outcome never changes the response.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.webhookLimiter.Allow(getIP(r)) {
		s.logger.Warn("webhook throttled", "remote", getIP(r), "delivery", r.Header.Get("X-GitHub-Delivery"))
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "throttled"})
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if s.opts.WebhookSecret != "" {
		if err := verifySignature([]byte(s.opts.WebhookSecret), body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			s.logger.Warn("webhook rejected", "remote", getIP(r), "error", err)
			writeError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	event := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	log := s.logger.With("event", event, "delivery", delivery)

	switch event {
	case "ping":
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "pong"})
		return
	case "", "push":
	default:
		log.Info("webhook event ignored")
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "ignored"})
		return
	}

	if delivery != "" && !s.deliveries.add(delivery) {
		log.Info("duplicate webhook delivery")
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "duplicate"})
		return
	}

	var ev pushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("invalid webhook payload", "error", err)
		s.deliveries.forget(delivery)
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "ignored"})
		return
	}
	branch, err := identity.BranchFromRef(ev.Ref)
	if err != nil || ev.Repository.CloneURL == "" {
		log.Warn("webhook payload missing repository or branch ref", "ref", ev.Ref)
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "ignored"})
		return
	}
	repoURL := ev.Repository.CloneURL
	hash := identity.Hash(repoURL, branch)
	log = log.With("branch_hash", hash, "repo_url", repoURL, "branch", branch)

	if ev.Deleted {
		log.Info("branch deleted, nothing to deploy")
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "ignored", Hash: hash})
		return
	}

	job, err := s.deployer.Enqueue(repoURL, branch)
	if err != nil {
		log.Error("deploy dropped", "error", err)
		// A redelivery of a dropped push must be able to queue it.
		s.deliveries.forget(delivery)
		writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "dropped", Hash: hash})
		return
	}
	log.Info("webhook received", "job_id", job.ID)
	writeJSON(w, http.StatusOK, webhookAck{Received: true, Status: "queued", JobID: job.ID, Hash: hash})
}

// verifySignature checks a GitHub-style "sha256=<hex>" HMAC over body.
func verifySignature(secret, body []byte, signature string) error {
	if signature == "" {
		return errors.New("webhook HMAC: signature is empty")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("webhook HMAC: invalid hex signature: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return errors.New("webhook HMAC: signature mismatch")
	}
	return nil
}

// deliveryCache remembers webhook delivery ids for ttl so retried
// deliveries do not deploy twice.
type deliveryCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newDeliveryCache(ttl time.Duration) *deliveryCache {
	return &deliveryCache{seen: make(map[string]time.Time), ttl: ttl}
}

// add records id and reports whether it was new.
func (c *deliveryCache) add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if at, ok := c.seen[id]; ok && now.Sub(at) < c.ttl {
		return false
	}
	c.seen[id] = now
	return true
}

// forget drops id so a later delivery with the same id is accepted.
func (c *deliveryCache) forget(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	delete(c.seen, id)
	c.mu.Unlock()
}

func (c *deliveryCache) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	n := 0
	for id, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, id)
			n++
		}
	}
	return n
}
