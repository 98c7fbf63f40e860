package upload

import (
	"context"
	"time"
)

// GeoLocation is a single captured position.
type GeoLocation struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// MetaData describes a measurement. It is computed once from the finished measurement
// and never changes afterwards.
type MetaData struct {
	OSVersion  string
	DeviceType string
	AppVersion string

	// Length of the track in metres.
	Length        float64
	LocationCount uint64

	// StartLocation and EndLocation are nil for measurements without any location.
	StartLocation *GeoLocation
	EndLocation   *GeoLocation

	Modality      string
	FormatVersion int
	LogCount      int
	ImageCount    int
	VideoCount    int
	FilesSize     int64
}

// Record is one pending upload. It is owned by a single Process.Upload call and
// mirrored into the SessionRegistry as a Session.
type Record struct {
	ID       Identifier
	MetaData MetaData
	Payload  []byte

	// Location of the resumable session on the server, empty until a pre-request succeeded.
	Location             string
	FailedUploadsCounter int

	// ResumeOffset is the first byte the server has not received yet. It is learned
	// from the server for every transfer and never persisted.
	ResumeOffset int64

	// OnSuccess is called once the server acknowledged the complete measurement.
	OnSuccess func(ctx context.Context) error
	// OnFailed is called with the terminal cause when an upload gives up.
	OnFailed func(ctx context.Context, cause error) error
}

// Size ...
func (r Record) Size() int64 {
	return int64(len(r.Payload))
}

// Session returns the durable part of the record.
func (r Record) Session() Session {
	return Session{
		ID:                   r.ID,
		Location:             r.Location,
		FailedUploadsCounter: r.FailedUploadsCounter,
	}
}

// Session is the registry entry of an open upload.
type Session struct {
	ID                   Identifier
	Location             string
	FailedUploadsCounter int
}
