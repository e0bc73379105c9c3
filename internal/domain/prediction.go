package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Detection is one labelled bounding box, coordinates normalized to the image size
type Detection struct {
	ClassLabel string  `json:"class"`
	CenterX    float64 `json:"cx"`
	CenterY    float64 `json:"cy"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// Detections keeps inference order and is stored as a JSON column
type Detections []Detection

// Value implements driver.Valuer. Text, not bytes, so lib/pq does not send it as bytea.
func (d Detections) Value() (driver.Value, error) {
	if d == nil {
		return "[]", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (d *Detections) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = Detections{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported detections column type %T", src)
	}

	var out Detections
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode detections: %w", err)
	}
	*d = out
	return nil
}

// PredictionSummary is the durable result of one completed job
type PredictionSummary struct {
	JobID        string     `json:"job_id" db:"job_id"`
	InputRef     string     `json:"input_ref" db:"input_ref"`
	OutputRef    string     `json:"output_ref" db:"output_ref"`
	RequesterRef string     `json:"requester_ref" db:"requester_ref"`
	Detections   Detections `json:"detections" db:"detections"`
	CompletedAt  time.Time  `json:"completed_at" db:"completed_at"`
}

// ClassCounts returns how many detections carry each label, in first-seen order
func (p *PredictionSummary) ClassCounts() ([]string, map[string]int) {
	order := make([]string, 0, len(p.Detections))
	counts := make(map[string]int, len(p.Detections))
	for _, det := range p.Detections {
		if _, seen := counts[det.ClassLabel]; !seen {
			order = append(order, det.ClassLabel)
		}
		counts[det.ClassLabel]++
	}
	return order, counts
}
