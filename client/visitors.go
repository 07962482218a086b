package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Visit is a single visit record as returned by the backend.
type Visit struct {
	ID                string     `json:"id"`
	Visitor           string     `json:"visitor"`
	VisitorName       string     `json:"visitor_name"`
	VisitorEmail      string     `json:"visitor_email"`
	VisitorPhone      string     `json:"visitor_phone"`
	Purpose           string     `json:"purpose"`
	HostName          string     `json:"host_name"`
	CheckInTime       time.Time  `json:"check_in_time"`
	CheckOutTime      *time.Time `json:"check_out_time"`
	DurationMinutes   *int       `json:"duration_minutes"`
	DurationFormatted string     `json:"duration_formatted"`
	IsActive          bool       `json:"is_active"`
	Status            string     `json:"status"`
	Photos            []Photo    `json:"photos,omitempty"`
}

// Photo references an uploaded visitor photo.
type Photo struct {
	ID        string    `json:"id"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Visitor is a person known to the backend, independent of any one visit.
type Visitor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	TotalVisits int    `json:"total_visits"`
}

// CheckInRequest carries a new check-in. PhotoData and SignatureData are
// optional data-URL (base64) attachments captured at the kiosk; when either
// is present the request goes up as multipart instead of JSON.
type CheckInRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Purpose       string `json:"purpose"`
	HostName      string `json:"host_name,omitempty"`
	PhotoData     string `json:"photo_data,omitempty"`
	SignatureData string `json:"signature_data,omitempty"`
}

// CheckInResponse is the backend's reply to a successful check-in.
type CheckInResponse struct {
	Message            string `json:"message"`
	Visit              Visit  `json:"visit"`
	IsReturningVisitor bool   `json:"is_returning_visitor"`
}

// CheckOutResponse is the backend's reply to a successful check-out.
type CheckOutResponse struct {
	Message string `json:"message"`
	Visit   Visit  `json:"visit"`
}

// ActiveVisitorsResponse lists visits that are checked in but not out.
type ActiveVisitorsResponse struct {
	ActiveVisitors []Visit `json:"active_visitors"`
	Count          int     `json:"count"`
}

// HistoryFilter narrows visit-history queries. Zero-value fields are omitted.
type HistoryFilter struct {
	Name     string
	Phone    string
	Email    string
	DateFrom string // YYYY-MM-DD
	DateTo   string // YYYY-MM-DD
}

func (f HistoryFilter) values() url.Values {
	params := url.Values{}
	set := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}
	set("name", f.Name)
	set("phone", f.Phone)
	set("email", f.Email)
	set("date_from", f.DateFrom)
	set("date_to", f.DateTo)
	return params
}

// VisitHistoryResponse is a filtered page of past visits.
type VisitHistoryResponse struct {
	Visits []Visit `json:"visits"`
	Count  int     `json:"count"`
}

// SearchVisitorResponse reports whether a visitor matched by email or phone.
type SearchVisitorResponse struct {
	Found   bool     `json:"found"`
	Visitor *Visitor `json:"visitor,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Export is a history export document produced by the backend.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CheckIn registers a visitor arrival. Requests with photo or signature
// attachments are sent as multipart form data, plain ones as JSON.
func (c *Client) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResponse, error) {
	var resp CheckInResponse

	if req.PhotoData == "" && req.SignatureData == "" {
		if err := c.doJSON(ctx, http.MethodPost, "/visitors/check_in/", req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	}

	body, contentType, err := encodeCheckInForm(req)
	if err != nil {
		return nil, err
	}
	data, _, err := c.do(ctx, http.MethodPost, "/visitors/check_in/", contentType, body, nil)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckOut ends the visit with the given id.
func (c *Client) CheckOut(ctx context.Context, visitID string) (*CheckOutResponse, error) {
	payload := map[string]string{"visit_id": visitID}
	var resp CheckOutResponse
	if err := c.doJSON(ctx, http.MethodPost, "/visitors/check_out/", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActiveVisitors returns all currently checked-in visits.
func (c *Client) ActiveVisitors(ctx context.Context) (*ActiveVisitorsResponse, error) {
	var resp ActiveVisitorsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/visitors/active/", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VisitHistory returns past visits matching the filter, newest first.
func (c *Client) VisitHistory(ctx context.Context, filter HistoryFilter) (*VisitHistoryResponse, error) {
	path := "/visitors/history/"
	if params := filter.values(); len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp VisitHistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchVisitor looks up an existing visitor by email and/or phone. At least
// one of the two must be provided.
func (c *Client) SearchVisitor(ctx context.Context, email, phone string) (*SearchVisitorResponse, error) {
	if email == "" && phone == "" {
		return nil, fmt.Errorf("email or phone is required")
	}
	params := url.Values{}
	if email != "" {
		params.Set("email", email)
	}
	if phone != "" {
		params.Set("phone", phone)
	}
	var resp SearchVisitorResponse
	if err := c.doJSON(ctx, http.MethodGet, "/visitors/search/?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportHistory downloads the visit-history export document for the filter.
func (c *Client) ExportHistory(ctx context.Context, filter HistoryFilter) (*Export, error) {
	path := "/visitors/export/"
	if params := filter.values(); len(params) > 0 {
		path += "?" + params.Encode()
	}
	data, headers, err := c.do(ctx, http.MethodGet, path, "", nil, nil)
	if err != nil {
		return nil, err
	}

	export := &Export{
		Data:        data,
		ContentType: headers.Get("Content-Type"),
		Filename:    fmt.Sprintf("visit_history_%s.xlsx", time.Now().Format("2006-01-02")),
	}
	if cd := headers.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			export.Filename = params["filename"]
		}
	}
	return export, nil
}

// encodeCheckInForm builds the multipart body for check-ins with attachments.
// Data-URL attachments are decoded and uploaded as file parts the way the
// backend expects them.
func encodeCheckInForm(req CheckInRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"name":      req.Name,
		"email":     req.Email,
		"phone":     req.Phone,
		"purpose":   req.Purpose,
		"host_name": req.HostName,
	}
	for key, value := range fields {
		if value == "" && key == "host_name" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	if req.PhotoData != "" {
		if err := writeDataURLPart(w, "photo", "visitor_photo", req.PhotoData); err != nil {
			return nil, "", err
		}
	}
	if req.SignatureData != "" {
		if err := writeDataURLPart(w, "signature", "visitor_signature", req.SignatureData); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// writeDataURLPart decodes a base64 data URL ("data:image/png;base64,...")
// into a named file part. Bare base64 payloads are treated as JPEG.
func writeDataURLPart(w *multipart.Writer, field, prefix, dataURL string) error {
	payload := dataURL
	ext := "jpg"
	if strings.HasPrefix(dataURL, "data:") {
		idx := strings.Index(dataURL, ";base64,")
		if idx < 0 {
			return fmt.Errorf("%s: unsupported data URL encoding", field)
		}
		mimeType := strings.TrimPrefix(dataURL[:idx], "data:")
		if parts := strings.SplitN(mimeType, "/", 2); len(parts) == 2 && parts[1] != "" {
			ext = parts[1]
		}
		payload = dataURL[idx+len(";base64,"):]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%s: invalid base64 data: %w", field, err)
	}

	filename := fmt.Sprintf("%s_%d.%s", prefix, time.Now().UnixMilli(), ext)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, bytes.NewReader(raw))
	return err
}

func decodeJSON(data []byte, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
