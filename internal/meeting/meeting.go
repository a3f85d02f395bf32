// Package meeting is the boundary to the external video-room provider.
package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Links are the per-party join URLs for one provisioned room.
type Links struct {
	PatientURL string `json:"patient_url"`
	DoctorURL  string `json:"doctor_url"`
}

// Provisioner creates a video room for an online appointment. A failure
// here is fatal to the enclosing booking.
type Provisioner interface {
	CreateMeeting(ctx context.Context, roomID string, patientID, doctorID int64) (Links, error)
}

type HTTPProvisioner struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvisioner(baseURL string) *HTTPProvisioner {
	return &HTTPProvisioner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvisioner) CreateMeeting(ctx context.Context, roomID string, patientID, doctorID int64) (Links, error) {
	body, err := json.Marshal(map[string]any{
		"room_id":    roomID,
		"patient_id": patientID,
		"doctor_id":  doctorID,
	})
	if err != nil {
		return Links{}, fmt.Errorf("marshal meeting request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return Links{}, fmt.Errorf("build meeting request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Links{}, fmt.Errorf("create meeting room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Links{}, fmt.Errorf("create meeting room: provider returned %d", resp.StatusCode)
	}

	var links Links
	if err := json.NewDecoder(resp.Body).Decode(&links); err != nil {
		return Links{}, fmt.Errorf("decode meeting response: %w", err)
	}

	return links, nil
}
