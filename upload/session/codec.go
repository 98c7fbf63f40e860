// Package session provides SessionRegistry implementations: in memory, boltdb, SQL (gorm) and redis.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sensorsync/go-collector-sync/upload"
)

type storedSession struct {
	DeviceID             uuid.UUID `json:"device_id"`
	MeasurementID        uint64    `json:"measurement_id"`
	Location             string    `json:"location"`
	FailedUploadsCounter int       `json:"failed_uploads_counter"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func key(id upload.Identifier) []byte {
	return []byte(id.String())
}

func encode(s upload.Session) ([]byte, error) {
	data, err := json.Marshal(storedSession{
		DeviceID:             s.ID.DeviceID,
		MeasurementID:        s.ID.MeasurementID,
		Location:             s.Location,
		FailedUploadsCounter: s.FailedUploadsCounter,
		UpdatedAt:            time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

func decode(data []byte) (*upload.Session, error) {
	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &upload.Session{
		ID: upload.Identifier{
			DeviceID:      stored.DeviceID,
			MeasurementID: stored.MeasurementID,
		},
		Location:             stored.Location,
		FailedUploadsCounter: stored.FailedUploadsCounter,
	}, nil
}
