package network

import (
	"strconv"

	"github.com/sensorsync/go-collector-sync/upload"
)

// metaDataFields renders the record's metadata the way the collector expects it: every value
// as a string, timestamps in milliseconds since the epoch. The same fields are sent as the
// pre-request body and as headers of the upload request.
func metaDataFields(record upload.Record) map[string]string {
	m := record.MetaData
	fields := map[string]string{
		"deviceId":      record.ID.DeviceID.String(),
		"measurementId": strconv.FormatUint(record.ID.MeasurementID, 10),
		"osVersion":     m.OSVersion,
		"deviceType":    m.DeviceType,
		"appVersion":    m.AppVersion,
		"length":        strconv.FormatFloat(m.Length, 'f', -1, 64),
		"locationCount": strconv.FormatUint(m.LocationCount, 10),
		"modality":      m.Modality,
		"formatVersion": strconv.Itoa(m.FormatVersion),
		"logCount":      strconv.Itoa(m.LogCount),
		"imageCount":    strconv.Itoa(m.ImageCount),
		"videoCount":    strconv.Itoa(m.VideoCount),
		"filesSize":     strconv.FormatInt(m.FilesSize, 10),
	}

	if m.StartLocation != nil {
		fields["startLocLat"] = formatCoordinate(m.StartLocation.Latitude)
		fields["startLocLon"] = formatCoordinate(m.StartLocation.Longitude)
		fields["startLocTS"] = strconv.FormatInt(m.StartLocation.Timestamp.UnixMilli(), 10)
	}
	if m.EndLocation != nil {
		fields["endLocLat"] = formatCoordinate(m.EndLocation.Latitude)
		fields["endLocLon"] = formatCoordinate(m.EndLocation.Longitude)
		fields["endLocTS"] = strconv.FormatInt(m.EndLocation.Timestamp.UnixMilli(), 10)
	}

	return fields
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
