package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dotagraph/coordinator/internal/heroes"
	"github.com/dotagraph/coordinator/internal/scheduler"
	"github.com/dotagraph/coordinator/internal/store"
)

const (
	submitKindHeroStats = "hero_stats"
	submitKindDiscovery = "discovery"

	maxSeedCount = 100000
)

type taskResponse struct {
	Kind           string `json:"kind"`
	AccountID      int64  `json:"account_id,omitempty"`
	Depth          int    `json:"depth,omitempty"`
	HighestMatchID int64  `json:"highest_match_id,omitempty"`
}

func toTaskResponse(task store.Task) taskResponse {
	switch t := task.(type) {
	case store.CollectHeroStats:
		return taskResponse{Kind: string(t.Kind()), AccountID: t.AccountID}
	case store.DiscoverMatches:
		return taskResponse{
			Kind:           string(t.Kind()),
			AccountID:      t.AccountID,
			Depth:          t.Depth,
			HighestMatchID: t.HighestMatchID,
		}
	default:
		return taskResponse{Kind: "none"}
	}
}

// requestTask handles POST /task. The response always carries a "kind";
// "none" means there is no work right now and the worker should back off.
func (s *Server) requestTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.sched.RequestTask(r.Context())
	if err != nil {
		s.log.Error("request task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to assign task")
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

type resetRequest struct {
	AccountID int64  `json:"account_id"`
	Kind      string `json:"kind"`
}

// resetTask handles POST /task/reset: an administrative release of a claim,
// optionally rewinding the named phase's completion flag.
func (s *Server) resetTask(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountID <= 0 {
		writeError(w, http.StatusBadRequest, "account_id must be > 0")
		return
	}
	kind := store.TaskKind(req.Kind)
	switch kind {
	case "", store.TaskCollectHeroStats, store.TaskDiscoverMatches:
	default:
		writeError(w, http.StatusBadRequest, "unknown task kind")
		return
	}
	if err := s.sched.ResetTask(r.Context(), req.AccountID, kind); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.log.Error("reset task failed", zap.Int64("account_id", req.AccountID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "account_id": req.AccountID})
}

type heroStatPayload struct {
	HeroID  int32 `json:"hero_id"`
	Matches int   `json:"matches"`
	Wins    int   `json:"wins"`
}

type neighborPayload struct {
	AccountID int64 `json:"account_id"`
	Count     int   `json:"count"`
}

type submitRequest struct {
	AccountID      int64             `json:"account_id"`
	Kind           string            `json:"kind"`
	Heroes         []heroStatPayload `json:"heroes"`
	Neighbors      []neighborPayload `json:"neighbors"`
	NextDepth      *int              `json:"next_depth"`
	ParentDepth    *int              `json:"parent_depth"`
	HighestMatchID *int64            `json:"highest_match_id"`
	WantTask       bool              `json:"task"`
}

// submit handles POST /submit. The ack is synchronous; row writes happen in
// the background. With "task": true the response carries the worker's next
// assignment so a round trip is saved.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.AccountID <= 0 {
		writeError(w, http.StatusBadRequest, "account_id must be > 0")
		return
	}

	var err error
	switch req.Kind {
	case submitKindHeroStats:
		rows := make([]scheduler.HeroStatRow, 0, len(req.Heroes))
		for _, h := range req.Heroes {
			rows = append(rows, scheduler.HeroStatRow{HeroID: h.HeroID, Matches: h.Matches, Wins: h.Wins})
		}
		err = s.sched.SubmitHeroStats(r.Context(), req.AccountID, rows)
	case submitKindDiscovery:
		neighbors := make([]scheduler.Neighbor, 0, len(req.Neighbors))
		for _, n := range req.Neighbors {
			neighbors = append(neighbors, scheduler.Neighbor{ID: n.AccountID, Count: n.Count})
		}
		err = s.sched.SubmitDiscovery(r.Context(), req.AccountID, neighbors, req.NextDepth, req.ParentDepth, req.HighestMatchID)
	default:
		writeError(w, http.StatusBadRequest, "kind must be hero_stats or discovery")
		return
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.log.Error("submit failed",
			zap.Int64("account_id", req.AccountID),
			zap.String("kind", req.Kind),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to accept submission")
		return
	}

	resp := map[string]any{"status": "accepted"}
	if req.WantTask {
		task, taskErr := s.sched.RequestTask(r.Context())
		if taskErr != nil {
			s.log.Error("next task after submit failed", zap.Error(taskErr))
		} else {
			resp["next"] = toTaskResponse(task)
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// progress handles GET /progress.
func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	p, err := s.sched.Progress(r.Context())
	if err != nil {
		s.log.Error("progress failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total":         p.Total,
		"hero_done":     p.HeroDone,
		"discover_done": p.DiscoverDone,
	})
}

// seed handles GET /seed?start=N&count=M. Seeding rewrites the crawl's
// starting frontier, so it only answers loopback callers.
func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		writeError(w, http.StatusForbidden, "seed is only available from localhost")
		return
	}
	start, err := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	if err != nil || start <= 0 {
		writeError(w, http.StatusBadRequest, "start must be a positive integer")
		return
	}
	count := int64(1)
	if raw := r.URL.Query().Get("count"); raw != "" {
		count, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || count <= 0 || count > maxSeedCount {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 100000")
			return
		}
	}
	inserted, err := s.sched.Seed(r.Context(), start, start+count-1)
	if err != nil {
		s.log.Error("seed failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to seed accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"inserted": inserted})
}

type leaderboardRow struct {
	Rank      int   `json:"rank"`
	AccountID int64 `json:"account_id"`
	Matches   int   `json:"matches"`
	Wins      int   `json:"wins"`
}

// leaderboard handles GET /leaderboards/{hero}, where hero is a catalog slug
// such as "anti_mage" or a numeric hero id.
func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "hero")
	heroID, heroName, ok := resolveHero(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown hero")
		return
	}
	entries, err := s.sched.Leaderboard(r.Context(), heroID)
	if err != nil {
		s.log.Error("leaderboard failed", zap.Int32("hero_id", heroID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read leaderboard")
		return
	}
	rows := make([]leaderboardRow, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, leaderboardRow{
			Rank:      i + 1,
			AccountID: e.AccountID,
			Matches:   e.Matches,
			Wins:      e.Wins,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hero_id": heroID,
		"hero":    heroName,
		"entries": rows,
	})
}

// best handles GET /best: per-account totals across all heroes.
func (s *Server) best(w http.ResponseWriter, r *http.Request) {
	totals, err := s.sched.OverallBest(r.Context(), 0)
	if err != nil {
		s.log.Error("overall best failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read overall leaderboard")
		return
	}
	rows := make([]leaderboardRow, 0, len(totals))
	for i, t := range totals {
		rows = append(rows, leaderboardRow{
			Rank:      i + 1,
			AccountID: t.AccountID,
			Matches:   t.Matches,
			Wins:      t.Wins,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rows})
}

func resolveHero(ref string) (int32, string, bool) {
	if id, err := strconv.ParseInt(ref, 10, 32); err == nil {
		name, ok := heroes.Name(int32(id))
		return int32(id), name, ok
	}
	return heroes.BySlug(ref)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
