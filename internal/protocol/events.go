package protocol

import (
	"encoding/json"
	"time"

	"github.com/smukkama/campus-energy/internal/model"
)

// ReadingEvent is the message format of the readings topic
type ReadingEvent struct {
	PassID        string    `json:"pass_id"`
	SpaceID       int64     `json:"space_id"`
	Timestamp     time.Time `json:"timestamp"`
	Occupancy     bool      `json:"occupancy"`
	Temperature   float64   `json:"temperature"`
	BaseLoad      float64   `json:"base_load"`
	ACLoad        float64   `json:"ac_load"`
	LightLoad     float64   `json:"light_load"`
	EquipmentLoad float64   `json:"equipment_load"`
	TotalLoad     float64   `json:"total_load"`
	Source        string    `json:"energy_source"`
	Optimized     bool      `json:"optimized"`
}

// NewReadingEvent converts a committed reading
func NewReadingEvent(passID string, r model.EnergyReading) *ReadingEvent {
	return &ReadingEvent{
		PassID:        passID,
		SpaceID:       r.SpaceID,
		Timestamp:     r.Timestamp,
		Occupancy:     r.Occupancy,
		Temperature:   r.Temperature,
		BaseLoad:      r.BaseLoad,
		ACLoad:        r.ACLoad,
		LightLoad:     r.LightLoad,
		EquipmentLoad: r.EquipmentLoad,
		TotalLoad:     r.TotalLoad,
		Source:        r.SourceName,
		Optimized:     r.Optimized,
	}
}

// PassEvent is the message format of the passes topic
type PassEvent struct {
	Type              string    `json:"type"` // PASS_COMPLETE, PASS_FAILED, PASS_SKIPPED, PASS_CATALOG_UNAVAILABLE
	PassID            string    `json:"pass_id"`
	Timestamp         time.Time `json:"timestamp"`
	ReadingsCreated   int       `json:"readings_created"`
	ReadingsOptimized int       `json:"readings_optimized"`
	SpacesSkipped     int       `json:"spaces_skipped"`
	BatchesCommitted  int       `json:"batches_committed"`
	Error             string    `json:"error,omitempty"`
	FinishedAt        time.Time `json:"finished_at"`
}

const (
	PassTypeComplete           = "PASS_COMPLETE"
	PassTypeFailed             = "PASS_FAILED"
	PassTypeSkipped            = "PASS_SKIPPED"
	PassTypeCatalogUnavailable = "PASS_CATALOG_UNAVAILABLE"
)

// EncodeReadingEvent encodes a ReadingEvent to JSON
func EncodeReadingEvent(e *ReadingEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeReadingEvent decodes JSON to ReadingEvent
func DecodeReadingEvent(data []byte) (*ReadingEvent, error) {
	var e ReadingEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// EncodePassEvent encodes a PassEvent to JSON
func EncodePassEvent(e *PassEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodePassEvent decodes JSON to PassEvent
func DecodePassEvent(data []byte) (*PassEvent, error) {
	var e PassEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
