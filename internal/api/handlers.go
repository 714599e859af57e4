package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/majeggstics/snapshotd/internal/auth"
	"github.com/majeggstics/snapshotd/internal/controller"
	"github.com/majeggstics/snapshotd/internal/models"
	"github.com/majeggstics/snapshotd/internal/respcache"
)

// invalidateLeaderboardCache drops both the user- and admin-keyed
// leaderboard responses, since either could now be serving a stale
// current-state snapshot. Errors are ignored, not propagated: a cache
// miss on the next read is harmless, it just costs one extra query.
func (s *Server) invalidateLeaderboardCache(ctx context.Context) {
	if s.respCache == nil {
		return
	}
	_ = s.respCache.Invalidate(ctx, respcache.Key("leaderboard", string(models.AccessUser), ""))
	_ = s.respCache.Invalidate(ctx, respcache.Key("leaderboard", string(models.AccessAdmin), ""))
}

// maskedPlayer is models.CacheEntry with NumPrestiges zeroed out for
// non-admin callers, per spec.md §4.11 and invariant 7.
type maskedPlayer struct {
	models.CacheEntry
	NumPrestiges *int `json:"num_prestiges"`
}

func maskPlayer(e models.CacheEntry, isAdmin bool) maskedPlayer {
	m := maskedPlayer{CacheEntry: e, NumPrestiges: e.NumPrestiges}
	if !isAdmin {
		m.NumPrestiges = nil
		m.CacheEntry.NumPrestiges = nil
	}
	return m
}

// handleRefreshLeaderboardCron executes one controller tick and
// reports its outcome. Requires any valid bearer token signed by the
// shared secret (spec.md §6).
func (s *Server) handleRefreshLeaderboardCron(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	stateBefore, err := s.controller.LoadState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.controller.Tick(r.Context(), now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.invalidateLeaderboardCache(r.Context())

	stateAfter, err := s.controller.LoadState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snapshotSaved := stateAfter.LastSavedAt != nil &&
		(stateBefore.LastSavedAt == nil || stateAfter.LastSavedAt.After(*stateBefore.LastSavedAt))

	resp := map[string]any{
		"success":                 true,
		"timestamp":               now,
		"leaderboardCacheUpdated": true,
		"snapshotSaved":           snapshotSaved,
	}
	if stateAfter.LastDecisionResult != nil {
		d := stateAfter.LastDecisionResult
		resp["playerCount"] = d.TotalReceived
		resp["excludedCount"] = d.ExcludedCount
		resp["decision"] = map[string]any{
			"shouldSave":     d.ShouldSave,
			"syncPercentage": d.SyncPercentage,
			"reason":         d.Reason,
			"isPendingSync":  d.IsPendingSync,
		}
	}
	if snapshotSaved {
		if sr := s.controller.LastSnapshotResult(); sr != nil {
			resp["snapshotResult"] = map[string]any{
				"snapshotDate":                     sr.SnapshotDate,
				"playerCount":                      sr.PlayerCount,
				"snapshotsInserted":                sr.SnapshotsInserted,
				"snapshotErrors":                   sr.SnapshotErrors,
				"eggdayGainsInserted":               sr.EggdayGainsInserted,
				"eggdayGainsErrors":                 sr.EggdayGainsErrors,
				"refreshMaterializedViewsResponse": sr.RefreshMaterializedView,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type updatePlayerDataRequest struct {
	InternalCall bool                   `json:"internalCall"`
	Players      []models.PlayerRecord  `json:"players"`
	SnapshotDate string                 `json:"snapshotDate"`
	ForceUpdate  bool                   `json:"forceUpdate"`
	DryRun       bool                   `json:"dryRun"`
	SendEmail    bool                   `json:"sendEmail"`
}

// handleUpdatePlayerData accepts an already-fetched player set and
// writes it straight to the snapshot and cache stores, bypassing the
// decision engine. It exists for operator tooling (spec.md §6, §9's note
// on collapsing the cron/writer HTTP hop to a direct call while still
// allowing external invocation via SECRET_TOKEN). It also accepts the
// internal-call form (x-internal-call plus a verified bearer token),
// although the controller itself writes snapshots directly and never
// calls this endpoint.
func (s *Server) handleUpdatePlayerData(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedForWrite(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updatePlayerDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshotDate := req.SnapshotDate
	if snapshotDate == "" {
		snapshotDate = time.Now().UTC().Format("2006-01-02")
	}

	if req.DryRun {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"snapshotDate": snapshotDate,
			"playerCount":  len(req.Players),
			"dryRun":       true,
		})
		return
	}

	cacheResult := s.cache.Upsert(r.Context(), controller.ToCacheEntries(req.Players), 100)
	snapshotResult := s.snapshots.Write(r.Context(), snapshotDate, controller.ToSnapshotRows(req.Players, snapshotDate), controller.ToYearlyGainRows(req.Players), 100)

	refreshResponse := "ok"
	if err := s.snapshots.RefreshLeaderboardView(r.Context()); err != nil {
		refreshResponse = err.Error()
	}

	s.invalidateLeaderboardCache(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"snapshotDate": snapshotDate,
		"playerCount":  len(req.Players),
		"snapshots": map[string]any{
			"inserted": snapshotResult.SnapshotsInserted,
			"errors":   snapshotResult.SnapshotErrors,
		},
		"eggdayGains": map[string]any{
			"inserted": snapshotResult.EggdayGainsInserted,
			"errors":   snapshotResult.EggdayGainsErrors,
		},
		"errors":                           cacheResult.Errors,
		"refreshMaterializedViewsResponse": refreshResponse,
	})
}

func (s *Server) authorizedForWrite(r *http.Request) bool {
	if token := r.Header.Get("x-secret-token"); token != "" && token == s.secretToken {
		return true
	}
	if r.Header.Get("x-internal-call") == "true" {
		if token := bearerToken(r); token != "" {
			if _, err := s.verifier.Verify(token); err == nil {
				return true
			}
		}
	}
	return false
}

type deleteSnapshotRequest struct {
	SnapshotDate string `json:"snapshot_date"`
}

// handleDeleteSnapshot removes every row for a snapshot date. Callers
// must present either an admin session token or the operator secret
// token (spec.md §4.11, invariant 8).
func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	performedBy := "operator-token"
	authorized := false

	if token := bearerToken(r); token != "" {
		if p, err := s.verifier.Verify(token); err == nil && p.IsAdmin() {
			authorized = true
			performedBy = p.SubjectID
		}
	}
	if !authorized && r.Header.Get("x-secret-token") == s.secretToken && s.secretToken != "" {
		authorized = true
	}
	if !authorized {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req deleteSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SnapshotDate == "" {
		writeError(w, http.StatusBadRequest, "missing snapshot_date")
		return
	}

	deleted, err := s.snapshots.DeleteSnapshot(r.Context(), req.SnapshotDate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_ = s.auditLog.RecordAudit(r.Context(), models.AuditRow{
		PerformedBy: performedBy,
		Action:      "delete_snapshot",
		Detail:      req.SnapshotDate,
		OccurredAt:  time.Now().UTC(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"snapshotDate":   req.SnapshotDate,
		"deletedRecords": deleted,
		"message":        "snapshot deleted",
		"performedBy":    performedBy,
	})
}

type discordAuthRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// handleDiscordAuth implements the public identity-exchange entry
// point (C9).
func (s *Server) handleDiscordAuth(w http.ResponseWriter, r *http.Request) {
	var req discordAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.RedirectURI == "" {
		writeError(w, http.StatusBadRequest, "missing code or redirect_uri")
		return
	}

	result, err := s.exchanger.Exchange(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		if errors.Is(err, auth.ErrAccessDenied) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"success": false,
				"error":   "access_denied",
				"message": "you must be a member of the required Discord guild with a qualifying role",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jwt": result.Token,
		"user": map[string]any{
			"discord_id":  result.Profile.ID,
			"username":    result.Profile.Username,
			"global_name": result.Profile.GlobalName,
			"avatar":      result.Profile.Avatar,
		},
		"access_level": result.AccessLevel,
		"expires_at":   result.ExpiresAt,
	})
}

// currentCacheFreshness implements the read-path self-heal spec.md
// §4.11 requires: if the freshness marker is older than the configured
// cache duration, it attempts one upstream fetch and cache replace
// before the read is served. A failed self-heal fetch is swallowed —
// the caller falls back to the existing, now-stale cache rows, per
// spec.md §4.5's "readers MAY return previously-cached rows labeled
// stale."
func (s *Server) currentCacheFreshness(ctx context.Context) time.Time {
	lastUpdated, err := s.cache.GetFreshness(ctx)
	if err != nil {
		return time.Time{}
	}

	if !lastUpdated.IsZero() && time.Since(lastUpdated) < s.cacheFreshFor {
		return lastUpdated
	}

	records, err := s.upstream.Fetch(ctx)
	if err != nil {
		return lastUpdated
	}
	s.cache.Upsert(ctx, controller.ToCacheEntries(records), s.batchSize)
	return time.Now().UTC()
}

type leaderboardResponse struct {
	Players     []maskedPlayer `json:"players"`
	LastUpdated time.Time      `json:"lastUpdated"`
	PlayerCount int            `json:"playerCount"`
	FromCache   bool           `json:"fromCache"`
}

// handleGetLeaderboard returns the full current-state cache, masking
// numPrestiges for non-admin callers (spec.md §4.11, invariant 7), with
// the response itself served out of the Redis response cache when
// present.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r)
	cacheKey := respcache.Key("leaderboard", string(principal.AccessLevel), "")

	if s.respCache != nil {
		var cached leaderboardResponse
		if hit, err := s.respCache.Get(r.Context(), cacheKey, &cached); err == nil && hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	lastUpdated := s.currentCacheFreshness(r.Context())

	entries, err := s.cache.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	players := make([]maskedPlayer, len(entries))
	for i, e := range entries {
		players[i] = maskPlayer(e, principal.IsAdmin())
	}

	resp := leaderboardResponse{
		Players: players, LastUpdated: lastUpdated,
		PlayerCount: len(players), FromCache: true,
	}

	if s.respCache != nil {
		_ = s.respCache.Set(r.Context(), cacheKey, resp)
	}

	writeJSON(w, http.StatusOK, resp)
}

type playerStatsResponse struct {
	Player      maskedPlayer `json:"player"`
	LastUpdated time.Time    `json:"lastUpdated"`
	FromCache   bool         `json:"fromCache"`
}

// handleGetPlayerCurrentStats returns one player's cached row. With no
// discord_id parameter it returns the caller's own row; with one, the
// caller must be an admin (spec.md §4.11).
func (s *Server) handleGetPlayerCurrentStats(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r)

	targetID := r.URL.Query().Get("discord_id")
	if targetID == "" {
		targetID = principal.SubjectID
	} else if !principal.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	cacheKey := respcache.Key("player-current-stats", string(principal.AccessLevel), targetID)
	if s.respCache != nil {
		var cached playerStatsResponse
		if hit, err := s.respCache.Get(r.Context(), cacheKey, &cached); err == nil && hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	lastUpdated := s.currentCacheFreshness(r.Context())

	entry, err := s.cache.GetByID(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}

	resp := playerStatsResponse{
		Player: maskPlayer(*entry, principal.IsAdmin()), LastUpdated: lastUpdated, FromCache: true,
	}

	if s.respCache != nil {
		_ = s.respCache.Set(r.Context(), cacheKey, resp)
	}

	writeJSON(w, http.StatusOK, resp)
}
