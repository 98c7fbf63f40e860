package store

import (
	"time"

	"github.com/sensorsync/go-collector-sync/upload"
)

type storedLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type storedMetaData struct {
	OSVersion     string          `json:"osVersion"`
	DeviceType    string          `json:"deviceType"`
	AppVersion    string          `json:"appVersion"`
	Length        float64         `json:"length"`
	LocationCount uint64          `json:"locationCount"`
	StartLocation *storedLocation `json:"startLocation,omitempty"`
	EndLocation   *storedLocation `json:"endLocation,omitempty"`
	Modality      string          `json:"modality"`
	FormatVersion int             `json:"formatVersion"`
	LogCount      int             `json:"logCount"`
	ImageCount    int             `json:"imageCount"`
	VideoCount    int             `json:"videoCount"`
	FilesSize     int64           `json:"filesSize"`
}

func (l *storedLocation) toGeoLocation() *upload.GeoLocation {
	if l == nil {
		return nil
	}
	return &upload.GeoLocation{Latitude: l.Latitude, Longitude: l.Longitude, Timestamp: l.Timestamp}
}

func (m storedMetaData) toMetaData() upload.MetaData {
	return upload.MetaData{
		OSVersion:     m.OSVersion,
		DeviceType:    m.DeviceType,
		AppVersion:    m.AppVersion,
		Length:        m.Length,
		LocationCount: m.LocationCount,
		StartLocation: m.StartLocation.toGeoLocation(),
		EndLocation:   m.EndLocation.toGeoLocation(),
		Modality:      m.Modality,
		FormatVersion: m.FormatVersion,
		LogCount:      m.LogCount,
		ImageCount:    m.ImageCount,
		VideoCount:    m.VideoCount,
		FilesSize:     m.FilesSize,
	}
}
