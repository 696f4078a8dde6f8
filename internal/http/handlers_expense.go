package http

import (
	"net/http"

	"expensync/internal/core"
)

type countResponse struct {
	Count int `json:"count"`
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	expenses, err := s.expenses.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []core.Expense{}
	}
	NewResponse().JSON(expenses).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	in, err := DecodeExpenseInput(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.expenses.Add(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/"+e.ID).
		JSON(e).
		Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.expenses.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(e).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	patch, err := DecodeExpensePatch(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.expenses.Edit(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(e).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.expenses.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	e, err := s.expenses.MarkPaid(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(e).Write(w)
}

func (s *Server) handleMarkUnpaid(w http.ResponseWriter, r *http.Request) {
	e, err := s.expenses.MarkUnpaid(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(e).Write(w)
}

func (s *Server) handleSettleAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.expenses.SettleAllByParty(r.Context(), core.Party(r.PathValue("party")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(countResponse{Count: n}).Write(w)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.expenses.DeleteAllByParty(r.Context(), core.Party(r.PathValue("party")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(countResponse{Count: n}).Write(w)
}
