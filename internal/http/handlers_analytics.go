package http

import (
	"net/http"

	"expensync/internal/core"
)

const defaultTrendMonths = 6

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.expenses.Tags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	NewResponse().JSON(tags).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.expenses.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(categories).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.expenses.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(summary).Write(w)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	settlement, err := s.expenses.Settlement(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(settlement).Write(w)
}

func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	breakdown, err := s.expenses.CategoryBreakdown(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(breakdown).Write(w)
}

func (s *Server) handleMonthlyTrend(w http.ResponseWriter, r *http.Request) {
	n, err := ParseMonths(r.URL.Query(), defaultTrendMonths)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trend, err := s.expenses.MonthlyTrend(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(trend).Write(w)
}

func (s *Server) handleFixedVsVariable(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	split, err := s.expenses.FixedVsVariable(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(split).Write(w)
}

type snapshotRequest struct {
	Month core.Month `json:"month"`
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.expenses.CreateSnapshot(r.Context(), req.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(snap).Write(w)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.expenses.Snapshots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []core.Snapshot{}
	}
	NewResponse().JSON(snaps).Write(w)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	month, err := core.ParseMonth(r.PathValue("month"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.expenses.Snapshot(r.Context(), month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(snap).Write(w)
}
