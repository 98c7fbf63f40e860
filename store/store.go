// Package store reads finished measurements from a local directory tree and records their
// synchronisation state next to them.
//
// Layout:
//
//	<root>/<device id>/<measurement id>/metadata.json
//	<root>/<device id>/<measurement id>/payload.bin
//	<root>/<device id>/<measurement id>/uploaded       (written once the collector has it)
//	<root>/<device id>/<measurement id>/upload_error   (last terminal upload failure)
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/sensorsync/go-collector-sync/compression"
	"github.com/sensorsync/go-collector-sync/upload"
)

const (
	metaDataFile    = "metadata.json"
	payloadFile     = "payload.bin"
	uploadedMarker  = "uploaded"
	uploadErrorFile = "upload_error"
)

// ErrNotFinished is returned for measurements which are missing, incomplete or already uploaded.
var ErrNotFinished = errors.New("measurement is not a finished measurement")

// FileStore ...
type FileStore struct {
	root        string
	compressor  *compression.Compressor
	fileManager fileutil.FileManager
	pathChecker pathutil.PathChecker
	logger      log.Logger
}

var (
	_ upload.RecordFactory     = (*FileStore)(nil)
	_ upload.MeasurementSource = (*FileStore)(nil)
)

// NewFileStore opens the store rooted at dir. The directory must exist.
func NewFileStore(dir string, compressor *compression.Compressor, logger log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.NewLogger()
	}
	if compressor == nil {
		return nil, fmt.Errorf("compressor must not be nil")
	}

	root, err := pathutil.NewPathModifier().AbsPath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store directory: %w", err)
	}

	pathChecker := pathutil.NewPathChecker()
	exists, err := pathChecker.IsDirExists(root)
	if err != nil {
		return nil, fmt.Errorf("check store directory: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("store directory does not exist: %s", root)
	}

	return &FileStore{
		root:        root,
		compressor:  compressor,
		fileManager: fileutil.NewFileManager(),
		pathChecker: pathChecker,
		logger:      logger,
	}, nil
}

// Root ...
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) dir(id upload.Identifier) string {
	return filepath.Join(s.root, id.DeviceID.String(), strconv.FormatUint(id.MeasurementID, 10))
}

func (s *FileStore) exists(pth string) bool {
	exists, err := s.pathChecker.IsPathExists(pth)
	if err != nil {
		s.logger.Warnf("Failed to check %s: %s", pth, err)
		return false
	}
	return exists
}

// Finished lists the measurements which are complete and not uploaded yet, ordered by device
// and measurement id.
func (s *FileStore) Finished(ctx context.Context) ([]upload.Identifier, error) {
	matches, err := doublestar.Glob(os.DirFS(s.root), path.Join("*", "*", metaDataFile))
	if err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}

	var ids []upload.Identifier
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		measurementDir := path.Dir(match)
		id, err := upload.ParseIdentifier(path.Dir(measurementDir) + ":" + path.Base(measurementDir))
		if err != nil {
			s.logger.Warnf("Skipping %s: %s", measurementDir, err)
			continue
		}

		dir := s.dir(id)
		if !s.exists(filepath.Join(dir, payloadFile)) || s.exists(filepath.Join(dir, uploadedMarker)) {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].DeviceID != ids[j].DeviceID {
			return ids[i].DeviceID.String() < ids[j].DeviceID.String()
		}
		return ids[i].MeasurementID < ids[j].MeasurementID
	})

	s.logger.Debugf("Found %d finished measurements in %s", len(ids), s.root)
	return ids, nil
}

// LoadFinishedMeasurement reads the metadata and the uncompressed payload of a finished measurement.
func (s *FileStore) LoadFinishedMeasurement(ctx context.Context, id upload.Identifier) (upload.MetaData, []byte, error) {
	if err := ctx.Err(); err != nil {
		return upload.MetaData{}, nil, err
	}

	dir := s.dir(id)
	if s.exists(filepath.Join(dir, uploadedMarker)) {
		return upload.MetaData{}, nil, fmt.Errorf("%s: %w", id, ErrNotFinished)
	}

	metaData, err := s.readMetaData(filepath.Join(dir, metaDataFile))
	if err != nil {
		return upload.MetaData{}, nil, fmt.Errorf("%s: %w", id, err)
	}

	payload, err := s.readFile(filepath.Join(dir, payloadFile))
	if err != nil {
		return upload.MetaData{}, nil, fmt.Errorf("%s: %w", id, err)
	}

	return metaData, payload, nil
}

// NewRecord loads a finished measurement as an upload record with a compressed payload.
// The record's hooks mark the measurement in the store.
func (s *FileStore) NewRecord(ctx context.Context, id upload.Identifier) (upload.Record, error) {
	metaData, payload, err := s.LoadFinishedMeasurement(ctx, id)
	if err != nil {
		return upload.Record{}, err
	}

	compressed, err := s.compressor.Compress(bytes.NewReader(payload))
	if err != nil {
		return upload.Record{}, fmt.Errorf("%s: %w", id, err)
	}
	s.logger.Debugf("Measurement %s: %s payload, %s compressed", id,
		units.HumanSize(float64(len(payload))), units.HumanSize(float64(len(compressed))))

	return upload.Record{
		ID:       id,
		MetaData: metaData,
		Payload:  compressed,
		OnSuccess: func(ctx context.Context) error {
			return s.MarkUploaded(ctx, id)
		},
		OnFailed: func(ctx context.Context, cause error) error {
			return s.MarkUploadFailed(ctx, id, cause)
		},
	}, nil
}

// MarkUploaded excludes the measurement from Finished.
func (s *FileStore) MarkUploaded(ctx context.Context, id upload.Identifier) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.dir(id)
	if !s.exists(dir) {
		return fmt.Errorf("%s: %w", id, ErrNotFinished)
	}

	if err := s.fileManager.WriteBytes(filepath.Join(dir, uploadedMarker), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("mark %s as uploaded: %w", id, err)
	}

	errorPath := filepath.Join(dir, uploadErrorFile)
	if s.exists(errorPath) {
		if err := s.fileManager.Remove(errorPath); err != nil {
			s.logger.Warnf("Failed to remove %s: %s", errorPath, err)
		}
	}
	return nil
}

// MarkUploadFailed records the cause of a terminal upload failure. The measurement stays finished
// and is picked up by the next synchronisation.
func (s *FileStore) MarkUploadFailed(ctx context.Context, id upload.Identifier, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.dir(id)
	if !s.exists(dir) {
		return fmt.Errorf("%s: %w", id, ErrNotFinished)
	}

	content := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), cause)
	if err := s.fileManager.WriteBytes(filepath.Join(dir, uploadErrorFile), []byte(content)); err != nil {
		return fmt.Errorf("record upload failure of %s: %w", id, err)
	}
	return nil
}

// LastUploadError returns the recorded failure of a measurement, empty if there is none.
func (s *FileStore) LastUploadError(id upload.Identifier) (string, error) {
	pth := filepath.Join(s.dir(id), uploadErrorFile)
	if !s.exists(pth) {
		return "", nil
	}
	content, err := s.readFile(pth)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(content)), nil
}

func (s *FileStore) readFile(pth string) ([]byte, error) {
	f, err := s.fileManager.Open(pth)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFinished
		}
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Printf("%s", err)
		}
	}()

	return io.ReadAll(f)
}

func (s *FileStore) readMetaData(pth string) (upload.MetaData, error) {
	content, err := s.readFile(pth)
	if err != nil {
		return upload.MetaData{}, err
	}

	var stored storedMetaData
	if err := json.Unmarshal(content, &stored); err != nil {
		return upload.MetaData{}, fmt.Errorf("decode %s: %w", metaDataFile, err)
	}
	return stored.toMetaData(), nil
}
