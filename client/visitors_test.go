package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheckInJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/visitors/check_in/" {
			w.WriteHeader(http.StatusOK) // resolver probe
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req CheckInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Name != "Ada Lovelace" || req.Purpose != "Meeting" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(CheckInResponse{
			Message:            "Checked in successfully",
			Visit:              Visit{ID: "v1", VisitorName: req.Name, IsActive: true},
			IsReturningVisitor: true,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.CheckIn(context.Background(), CheckInRequest{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Phone:   "555-0100",
		Purpose: "Meeting",
	})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if resp.Visit.ID != "v1" || !resp.IsReturningVisitor {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCheckInMultipartWithPhoto(t *testing.T) {
	const photoData = "data:image/png;base64,aGVsbG8=" // "hello"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/visitors/check_in/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("expected multipart form: %v", err)
		}
		if got := r.FormValue("name"); got != "Ada Lovelace" {
			t.Errorf("name = %q", got)
		}
		file, header, err := r.FormFile("photo")
		if err != nil {
			t.Fatalf("photo part missing: %v", err)
		}
		defer file.Close()
		if !strings.HasSuffix(header.Filename, ".png") {
			t.Errorf("photo filename = %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "hello" {
			t.Errorf("photo bytes = %q", data)
		}
		json.NewEncoder(w).Encode(CheckInResponse{Visit: Visit{ID: "v2"}})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.CheckIn(context.Background(), CheckInRequest{
		Name:      "Ada Lovelace",
		Email:     "ada@example.com",
		Phone:     "555-0100",
		Purpose:   "Meeting",
		PhotoData: photoData,
	})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if resp.Visit.ID != "v2" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCheckOutNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/visitors/check_out/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req struct {
			VisitID string `json:"visit_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.VisitID != "missing" {
			t.Errorf("visit_id = %q", req.VisitID)
		}
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "No active visit found"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.CheckOut(context.Background(), "missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Message != "No active visit found" {
		t.Fatalf("Message = %q", apiErr.Message)
	}
}

func TestActiveVisitors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ActiveVisitorsResponse{
			ActiveVisitors: []Visit{{ID: "v1", IsActive: true}, {ID: "v2", IsActive: true}},
			Count:          2,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.ActiveVisitors(context.Background())
	if err != nil {
		t.Fatalf("ActiveVisitors: %v", err)
	}
	if resp.Count != 2 || len(resp.ActiveVisitors) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestVisitHistoryFilterParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/visitors/history/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		q := r.URL.Query()
		if q.Get("name") != "ada" || q.Get("date_from") != "2026-01-01" {
			t.Errorf("unexpected query: %v", q)
		}
		if q.Has("phone") || q.Has("email") || q.Has("date_to") {
			t.Errorf("empty filter fields leaked into query: %v", q)
		}
		json.NewEncoder(w).Encode(VisitHistoryResponse{Visits: []Visit{{ID: "v1"}}, Count: 1})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.VisitHistory(context.Background(), HistoryFilter{Name: "ada", DateFrom: "2026-01-01"})
	if err != nil {
		t.Fatalf("VisitHistory: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSearchVisitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/visitors/search/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if got := r.URL.Query().Get("email"); got != "ada@example.com" {
			t.Errorf("email = %q", got)
		}
		json.NewEncoder(w).Encode(SearchVisitorResponse{
			Found:   true,
			Visitor: &Visitor{ID: "p1", Name: "Ada Lovelace", TotalVisits: 3},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.SearchVisitor(context.Background(), "ada@example.com", "")
	if err != nil {
		t.Fatalf("SearchVisitor: %v", err)
	}
	if !resp.Found || resp.Visitor == nil || resp.Visitor.TotalVisits != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSearchVisitorRequiresContact(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	if _, err := c.SearchVisitor(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty search")
	}
}

func TestExportHistory(t *testing.T) {
	payload := []byte("PK\x03\x04 not really a spreadsheet")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/visitors/export/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="visits.xlsx"`)
		w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	export, err := c.ExportHistory(context.Background(), HistoryFilter{})
	if err != nil {
		t.Fatalf("ExportHistory: %v", err)
	}
	if export.Filename != "visits.xlsx" {
		t.Fatalf("Filename = %q", export.Filename)
	}
	if string(export.Data) != string(payload) {
		t.Fatal("export payload mismatch")
	}
}

func TestWriteDataURLPartRejectsGarbage(t *testing.T) {
	if _, _, err := encodeCheckInForm(CheckInRequest{
		Name:      "x",
		PhotoData: "data:image/png;base64,!!!not-base64!!!",
	}); err == nil {
		t.Fatal("expected base64 decode error")
	}
}
