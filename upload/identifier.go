package upload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Identifier identifies one measurement across devices.
type Identifier struct {
	DeviceID      uuid.UUID
	MeasurementID uint64
}

// String returns the registry key of the measurement: `<device>:<measurement>`.
func (i Identifier) String() string {
	return fmt.Sprintf("%s:%d", i.DeviceID, i.MeasurementID)
}

// ParseIdentifier parses the output of Identifier.String.
func ParseIdentifier(s string) (Identifier, error) {
	device, measurement, found := strings.Cut(s, ":")
	if !found {
		return Identifier{}, fmt.Errorf("invalid measurement identifier %q: missing separator", s)
	}

	deviceID, err := uuid.Parse(device)
	if err != nil {
		return Identifier{}, fmt.Errorf("invalid device id %q: %w", device, err)
	}

	measurementID, err := strconv.ParseUint(measurement, 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("invalid measurement id %q: %w", measurement, err)
	}

	return Identifier{DeviceID: deviceID, MeasurementID: measurementID}, nil
}
