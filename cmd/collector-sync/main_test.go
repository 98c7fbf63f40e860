package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/sensorsync/go-collector-sync/compression"
	"github.com/sensorsync/go-collector-sync/config"
	"github.com/sensorsync/go-collector-sync/upload"
	"github.com/sensorsync/go-collector-sync/upload/collectortest"
	"github.com/sensorsync/go-collector-sync/upload/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMeasurement(t *testing.T, root string, id upload.Identifier, payload []byte) {
	t.Helper()

	dir := filepath.Join(root, id.DeviceID.String(), "1")
	require.NoError(t, os.MkdirAll(dir, 0755))
	metaData, err := json.Marshal(map[string]any{"osVersion": "Android 13", "deviceType": "Pixel 6", "appVersion": "1.0.0", "modality": "CAR", "formatVersion": 3})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), metaData, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "payload.bin"), payload, 0644))
}

func testConfig(t *testing.T, server *collectortest.Server, storeDir, registryKind, registryPath string) *config.Config {
	return &config.Config{
		Collector: config.CollectorConfig{APIURL: server.APIURL(), Token: "token", Timeout: 5 * time.Second},
		Registry:  config.RegistryConfig{Kind: registryKind, Path: registryPath},
		Sync:      config.SyncConfig{StoreDir: storeDir, MaxFailedUploads: 3, Concurrency: 2, CompressionLevel: 6},
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name         string
		registryKind string
		registryFile string
	}{
		{name: "bolt registry", registryKind: config.RegistryBolt, registryFile: "sessions.db"},
		{name: "sqlite registry", registryKind: config.RegistrySQL, registryFile: "sessions.sqlite"},
		{name: "memory registry", registryKind: config.RegistryMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			server := collectortest.NewServer("token", nil)
			defer server.Close()

			storeDir := t.TempDir()
			id := upload.Identifier{DeviceID: uuid.New(), MeasurementID: 1}
			payload := []byte("1700000000000;51.0;13.7;0.5\n1700000001000;51.1;13.8;0.6\n")
			writeMeasurement(t, storeDir, id, payload)

			registryPath := ""
			if tt.registryFile != "" {
				registryPath = filepath.Join(t.TempDir(), tt.registryFile)
			}
			cfg := testConfig(t, server, storeDir, tt.registryKind, registryPath)

			// When
			failed, err := run(context.Background(), cfg, log.NewLogger())

			// Then
			require.NoError(t, err)
			assert.Equal(t, 0, failed)

			received, ok := server.Received(id)
			require.True(t, ok)
			inflated, err := compression.Decompress(received)
			require.NoError(t, err)
			assert.Equal(t, payload, inflated)

			// A second run finds nothing left to upload.
			failed, err = run(context.Background(), cfg, log.NewLogger())
			require.NoError(t, err)
			assert.Equal(t, 0, failed)
			assert.Len(t, server.Requests(), 2)
		})
	}
}

func TestRun_reportsFailures(t *testing.T) {
	server := collectortest.NewServer("token", nil)
	defer server.Close()
	server.RejectAnnouncements(true)

	storeDir := t.TempDir()
	writeMeasurement(t, storeDir, upload.Identifier{DeviceID: uuid.New(), MeasurementID: 1}, []byte("payload"))
	cfg := testConfig(t, server, storeDir, config.RegistryMemory, "")

	failed, err := run(context.Background(), cfg, log.NewLogger())

	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	errorFiles, err := filepath.Glob(filepath.Join(storeDir, "*", "1", "upload_error"))
	require.NoError(t, err)
	assert.Len(t, errorFiles, 1)
}

func TestRun_leavesResumableSession(t *testing.T) {
	// Given a collector failing every transfer
	server := collectortest.NewServer("token", nil)
	defer server.Close()
	server.FailNextUploads(10)

	storeDir := t.TempDir()
	id := upload.Identifier{DeviceID: uuid.New(), MeasurementID: 1}
	writeMeasurement(t, storeDir, id, []byte("payload"))
	registryPath := filepath.Join(t.TempDir(), "sessions.db")
	cfg := testConfig(t, server, storeDir, config.RegistryBolt, registryPath)

	// When
	failed, err := run(context.Background(), cfg, log.NewLogger())

	// Then the session is kept for the next run
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	registry, err := session.OpenBolt(registryPath, log.NewLogger())
	require.NoError(t, err)
	defer registry.Close()
	assert.Equal(t, 1, logOpenSessions(context.Background(), registry, log.NewLogger()))
	assert.Equal(t, 0, logOpenSessions(context.Background(), session.NewMemory(), log.NewLogger()))
}

func TestRun_missingStore(t *testing.T) {
	server := collectortest.NewServer("token", nil)
	defer server.Close()
	cfg := testConfig(t, server, filepath.Join(t.TempDir(), "missing"), config.RegistryMemory, "")

	_, err := run(context.Background(), cfg, log.NewLogger())

	require.Error(t, err)
}
