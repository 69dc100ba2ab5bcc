package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipscout/internal/index"
	"github.com/forPelevin/clipscout/internal/session"
	"github.com/forPelevin/clipscout/internal/types"
)

// SessionHandler exposes the analysis session.
type SessionHandler struct {
	sess   *session.Session
	runCtx context.Context
	log    zerolog.Logger
}

func (h *SessionHandler) Register(g *echo.Group) {
	g.POST("/session", h.start)
	g.GET("/session", h.snapshot)
	g.GET("/clips", h.clips)
	g.GET("/clips/at", h.clipAt)
	g.PUT("/clips/:id/focus", h.focus)
	g.PUT("/sort", h.setSort)
	g.GET("/transcript/search", h.searchTranscript)
	g.GET("/events", h.events)
}

type startRequest struct {
	VideoPath string `json:"video_path"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	RunID     uint64 `json:"run_id"`
}

type snapshotResponse struct {
	SessionID     string          `json:"session_id"`
	RunID         uint64          `json:"run_id"`
	VideoPath     string          `json:"video_path,omitempty"`
	State         session.State   `json:"state"`
	Percent       float64         `json:"percent"`
	Error         string          `json:"error,omitempty"`
	Duration      float64         `json:"duration_sec"`
	SortOrder     types.SortOrder `json:"sort_order"`
	ActiveClipID  string          `json:"active_clip_id,omitempty"`
	LastQuery     string          `json:"last_query,omitempty"`
	Clips         int             `json:"clips"`
	Segments      int             `json:"segments"`
	TranscriptErr string          `json:"transcript_error,omitempty"`
	EmbedFailures int             `json:"embed_failures"`
}

type clipsResponse struct {
	Query        string             `json:"query,omitempty"`
	SortOrder    types.SortOrder    `json:"sort_order"`
	ActiveClipID string             `json:"active_clip_id,omitempty"`
	Clips        []types.RankedClip `json:"clips"`
}

type sortRequest struct {
	Order types.SortOrder `json:"order"`
}

type transcriptResponse struct {
	Query string             `json:"query"`
	Hits  []index.SegmentHit `json:"hits"`
}

func (h *SessionHandler) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	req.VideoPath = strings.TrimSpace(req.VideoPath)
	if req.VideoPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "video_path required")
	}
	if _, err := os.Stat(req.VideoPath); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "video not readable: "+err.Error())
	}
	runID, _ := h.sess.Start(h.runCtx, req.VideoPath)
	return c.JSON(http.StatusAccepted, startResponse{SessionID: h.sess.ID(), RunID: runID})
}

func (h *SessionHandler) snapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, toSnapshotResponse(h.sess.Snapshot()))
}

func toSnapshotResponse(s *session.Snapshot) snapshotResponse {
	out := snapshotResponse{
		SessionID:     s.SessionID,
		RunID:         s.RunID,
		VideoPath:     s.VideoPath,
		State:         s.State,
		Percent:       s.Percent,
		SortOrder:     s.SortOrder,
		ActiveClipID:  s.ActiveClipID,
		LastQuery:     s.LastQuery,
		Clips:         len(s.Clips),
		EmbedFailures: s.EmbedFailures,
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	if s.TranscriptErr != nil {
		out.TranscriptErr = s.TranscriptErr.Error()
	}
	if s.Index != nil {
		out.Duration = s.Index.Duration()
		out.Segments = len(s.Index.Transcript())
	}
	return out
}

func (h *SessionHandler) clips(c echo.Context) error {
	if order := types.SortOrder(strings.TrimSpace(c.QueryParam("sort"))); order != "" {
		if _, err := h.sess.SetSortOrder(order); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	q := c.QueryParam("q")
	res, err := h.sess.Search(c.Request().Context(), q)
	switch {
	case errors.Is(err, session.ErrStaleQuery), errors.Is(err, session.ErrStaleRun):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return err
	}
	snap := h.sess.Snapshot()
	return c.JSON(http.StatusOK, clipsResponse{
		Query:        strings.TrimSpace(q),
		SortOrder:    snap.SortOrder,
		ActiveClipID: snap.ActiveClipID,
		Clips:        res,
	})
}

func (h *SessionHandler) clipAt(c echo.Context) error {
	t, err := strconv.ParseFloat(c.QueryParam("t"), 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "t must be a number of seconds")
	}
	clip, ok := h.sess.ClipAt(t)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no clip at that time")
	}
	return c.JSON(http.StatusOK, clip)
}

func (h *SessionHandler) focus(c echo.Context) error {
	if err := h.sess.Focus(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, toSnapshotResponse(h.sess.Snapshot()))
}

func (h *SessionHandler) setSort(c echo.Context) error {
	var req sortRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	snap, err := h.sess.SetSortOrder(req.Order)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, clipsResponse{
		Query:        snap.LastQuery,
		SortOrder:    snap.SortOrder,
		ActiveClipID: snap.ActiveClipID,
		Clips:        snap.Displayed(),
	})
}

func (h *SessionHandler) searchTranscript(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit := 10
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	snap := h.sess.Snapshot()
	hits, err := snap.Index.SearchTranscript(q, limit)
	switch {
	case errors.Is(err, index.ErrClosed):
		return echo.NewHTTPError(http.StatusConflict, "run superseded by a newer run")
	case err != nil:
		return err
	}
	if hits == nil {
		hits = []index.SegmentHit{}
	}
	return c.JSON(http.StatusOK, transcriptResponse{Query: q, Hits: hits})
}

// events streams session progress as Server-Sent Events. The current
// snapshot is sent first so late subscribers see where the run is.
func (h *SessionHandler) events(c echo.Context) error {
	ctx := c.Request().Context()
	sub, cancel := h.sess.Subscribe()
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	send := func(event string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send("snapshot", toSnapshotResponse(h.sess.Snapshot())); err != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if err := send("progress", ev); err != nil {
				h.log.Debug().Err(err).Msg("event stream closed")
				return nil
			}
		}
	}
}
