package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/attachments"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"name":    "classeviva-poller",
		"version": s.config.Version,
		"endpoints": gin.H{
			"health":   "/health",
			"accounts": "/accounts",
			"snapshot": "/accounts/{account}/snapshot",
			"calendar": "/accounts/{account}/agenda.ics",
			"poll":     "POST /accounts/{account}/poll",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if status.Version == "" {
		status.Version = s.config.Version
	}
	if !status.Healthy {
		writeJSON(c, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

func (s *Server) handleReady(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Ready {
		writeJSON(c, http.StatusServiceUnavailable, gin.H{"status": "not_ready", "message": status.Message})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleLive(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// AccountSummary is the listing entry of one account.
type AccountSummary struct {
	Account         string            `json:"account"`
	TakenAt         *time.Time        `json:"taken_at,omitempty"`
	StaleCategories []school.Category `json:"stale_categories,omitempty"`
	Counts          map[string]int    `json:"counts,omitempty"`
}

func (s *Server) handleListAccounts(c *gin.Context) {
	pollers := s.deps.Accounts.List()
	out := make([]AccountSummary, 0, len(pollers))
	for _, p := range pollers {
		out = append(out, summarize(p.Account(), p.CurrentSnapshot()))
	}
	writeJSONWithMeta(c, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

func summarize(account string, snap *school.Snapshot) AccountSummary {
	summary := AccountSummary{Account: account}
	if snap == nil {
		return summary
	}
	takenAt := snap.TakenAt
	summary.TakenAt = &takenAt
	summary.StaleCategories = snap.StaleCategories()
	summary.Counts = make(map[string]int, len(school.Categories))
	for _, cat := range school.Categories {
		summary.Counts[string(cat)] = snap.Len(cat)
	}
	return summary
}

func (s *Server) handleGetSnapshot(c *gin.Context) {
	snap, ok := s.currentSnapshot(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (s *Server) handleGetAgendaCalendar(c *gin.Context) {
	snap, ok := s.currentSnapshot(c)
	if !ok {
		return
	}
	s.calendar.Serve(c, snap)
}

// handleTriggerPoll runs a cycle right away. The cycle is detached from
// the request so a client disconnect does not abort it halfway.
func (s *Server) handleTriggerPoll(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	if s.config.TriggerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TriggerTimeout)
		defer cancel()
	}

	snap, err := p.RunCycle(ctx)
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("manual poll failed",
			logger.Account(p.Account()), logger.Err(err))
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, summarize(p.Account(), snap))
}

func (s *Server) handleListNotifications(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}

	limit := defaultNotificationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	entries, err := s.deps.Journal.Recent(c.Request.Context(), p.Account(), limit)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSONWithMeta(c, http.StatusOK, entries, &ResponseMeta{TotalCount: len(entries)})
}

func (s *Server) handleGetFile(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	files, ok := s.deps.Files[p.Account()]
	if !ok {
		writeError(c, http.StatusNotFound, "not_found", "No attachment store for this account")
		return
	}

	f, err := files.Open(c.Param("item"), c.Param("name"))
	switch {
	case errors.Is(err, attachments.ErrInvalidName):
		writeError(c, http.StatusBadRequest, "invalid_name", "Invalid file reference")
		return
	case errors.Is(err, fs.ErrNotExist):
		writeError(c, http.StatusNotFound, "not_found", "File not found")
		return
	case err != nil:
		s.writeDomainError(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) lookup(c *gin.Context) (Poller, bool) {
	p, err := s.deps.Accounts.Lookup(c.Param("account"))
	if err != nil {
		s.writeDomainError(c, err)
		return nil, false
	}
	return p, true
}

func (s *Server) currentSnapshot(c *gin.Context) (*school.Snapshot, bool) {
	p, ok := s.lookup(c)
	if !ok {
		return nil, false
	}
	snap := p.CurrentSnapshot()
	if snap == nil {
		c.Header("Retry-After", "30")
		writeError(c, http.StatusServiceUnavailable, "snapshot_pending", "No snapshot has been taken yet")
		return nil, false
	}
	return snap, true
}

// writeDomainError maps domain errors to HTTP statuses.
func (s *Server) writeDomainError(c *gin.Context, err error) {
	switch {
	case shared.IsNotFound(err):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shared.ErrInProgress):
		writeError(c, http.StatusConflict, "cycle_in_progress", "A poll cycle is already running")
	case shared.IsValidation(err):
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
	case shared.IsAuthError(err):
		writeErrorWithDetails(c, http.StatusBadGateway, "upstream_auth_failed", "The school portal rejected the credentials", err.Error())
	case shared.IsTransportError(err), shared.IsUpstreamError(err):
		writeErrorWithDetails(c, http.StatusBadGateway, "upstream_unavailable", "The school portal is unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "timeout", "The operation timed out")
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), logger.Err(err))
		writeError(c, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}
