package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/feature"
	"github.com/mjwalz/Kartografische-Zeitmaschine/internal/featurejson"
)

// SourceService lists GeoJSON files in the data directory and imports them
// into layers.
type SourceService struct {
	sourcesDir string
	features   *FeatureService
	d          Deps
}

func NewSourceService(dataDir string, fs *FeatureService, d Deps) *SourceService {
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
		features:   fs,
		d:          d.withDefaults(),
	}
}

var extToType = map[string]string{
	".geojson": "GeoJSON",
	".json":    "GeoJSON",
}

// List returns all importable source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileType, ok := extToType[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
	}
	return files, nil
}

func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

// ImportRequest names the target layer of an import. An empty LayerID is
// derived from the file name; a missing layer is created.
type ImportRequest struct {
	LayerID   string `json:"layer_id,omitempty" doc:"Target layer, derived from the file name when empty"`
	LayerName string `json:"layer_name,omitempty" doc:"Display name for a newly created layer"`
}

// Import loads a file from the sources directory.
func (s *SourceService) Import(ctx context.Context, name string, req ImportRequest) (*ImportResult, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return nil, &feature.ValidationError{Field: "name", Reason: "must be a plain file name"}
	}
	if _, ok := extToType[strings.ToLower(filepath.Ext(name))]; !ok {
		return nil, &feature.ValidationError{Field: "name", Reason: "not a GeoJSON file"}
	}
	return s.ImportFile(ctx, filepath.Join(s.sourcesDir, name), req)
}

// ImportFile loads a GeoJSON FeatureCollection from path into a layer.
func (s *SourceService) ImportFile(ctx context.Context, path string, req ImportRequest) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("source %q: %w", filepath.Base(path), feature.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	features, decodeErrs, err := featurejson.DecodeCollection(data)
	if err != nil {
		return nil, &feature.ValidationError{Field: "file", Reason: err.Error()}
	}

	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	layer, err := s.ensureLayer(ctx, req, stem)
	if err != nil {
		return nil, err
	}
	gd, err := s.ensureGeoData(ctx, layer, base)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{LayerID: layer.ID, GeoDataID: gd.ID}
	for _, e := range decodeErrs {
		res.Skipped = append(res.Skipped, e.Error())
	}
	n, skipped := s.features.importAll(ctx, gd.ID, features)
	res.Imported = n
	res.Skipped = append(res.Skipped, skipped...)

	s.d.logger(ctx, "sources").Info().
		Str("file", base).
		Str("layer", layer.ID).
		Int("imported", n).
		Int("skipped", len(res.Skipped)).
		Msg("source imported")
	return res, nil
}

func (s *SourceService) ensureLayer(ctx context.Context, req ImportRequest, stem string) (*feature.Layer, error) {
	id := req.LayerID
	if id == "" {
		id = feature.GenerateID(stem)
	}
	l, err := s.d.Store.GetLayer(ctx, id)
	if err == nil || !errors.Is(err, feature.ErrNotFound) {
		return l, err
	}
	name := req.LayerName
	if name == "" {
		name = stem
	}
	l = &feature.Layer{ID: id, Name: name, LayerType: feature.LayerGeoJSON, Opacity: 1}
	if err := s.d.Store.CreateLayer(ctx, l); err != nil {
		return nil, err
	}
	s.d.Bus.Publish(Event{Resource: ResourceLayers, Action: ActionCreated, ID: l.ID, LayerID: l.ID})
	return l, nil
}

func (s *SourceService) ensureGeoData(ctx context.Context, l *feature.Layer, file string) (*feature.GeoData, error) {
	existing, err := s.d.Store.ListGeoData(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	g := &feature.GeoData{
		LayerID:     l.ID,
		Name:        l.Name,
		Description: "Imported from " + file,
	}
	if err := s.d.Store.PutGeoData(ctx, g); err != nil {
		return nil, err
	}
	s.d.Bus.Publish(Event{Resource: ResourceGeoData, Action: ActionCreated, ID: g.ID, LayerID: l.ID})
	return g, nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
