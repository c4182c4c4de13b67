// Package volumeio reads and writes volumes and landmark sets.
//
// A volume is stored as a YAML header next to a raw sample file. The header
// records the grid dimensions, the row-major IJK-to-RAS matrix and the name
// of the sample file, which holds little-endian float64 samples in
// I-fastest order. Landmark sets are plain YAML point lists.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"segwizard/internal/models"
	"segwizard/pkg/geometry"
)

// Volume file errors.
var (
	ErrUnsupportedType      = errors.New("unsupported sample type")
	ErrUnsupportedByteOrder = errors.New("unsupported byte order")
	ErrTruncatedSamples     = errors.New("truncated sample file")
	ErrInvalidDims          = errors.New("invalid volume dimensions")
)

// Header values written by SaveVolume.
const (
	SampleType = "float64"
	ByteOrder  = "little"
)

// Header is the YAML description of a stored volume.
type Header struct {
	Name       string      `yaml:"name"`
	Dims       [3]int      `yaml:"dims,flow"`
	IJKToRAS   [16]float64 `yaml:"ijk_to_ras,flow"`
	SampleFile string      `yaml:"sample_file"`
	SampleType string      `yaml:"sample_type"`
	ByteOrder  string      `yaml:"byte_order"`
}

// SaveVolume writes v as <dir>/<name>.yaml and <dir>/<name>.raw and returns
// the header path.
func SaveVolume(dir, name string, v *models.Volume) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}

	h := Header{
		Name:       v.Name,
		Dims:       v.Dims,
		IJKToRAS:   v.IJKToRAS,
		SampleFile: name + ".raw",
		SampleType: SampleType,
		ByteOrder:  ByteOrder,
	}
	if err := writeSamples(filepath.Join(dir, h.SampleFile), v.Data); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(&h)
	if err != nil {
		return "", fmt.Errorf("error marshaling volume header: %w", err)
	}
	headerPath := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(headerPath, data, 0644); err != nil {
		return "", fmt.Errorf("error writing volume header: %w", err)
	}
	return headerPath, nil
}

func writeSamples(path string, samples []float64) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating sample file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("error closing sample file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("error writing samples: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error writing samples: %w", err)
	}
	return nil
}

// LoadVolume reads the volume described by the header at headerPath. The
// sample file is resolved relative to the header.
func LoadVolume(headerPath string) (*models.Volume, error) {
	data, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, fmt.Errorf("error reading volume header: %w", err)
	}
	var h Header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("error parsing volume header %s: %w", headerPath, err)
	}
	if h.SampleType != SampleType {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, h.SampleType)
	}
	if h.ByteOrder != ByteOrder {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedByteOrder, h.ByteOrder)
	}

	for axis, n := range h.Dims {
		if n <= 0 {
			return nil, fmt.Errorf("%w: dimension %d is %d", ErrInvalidDims, axis, n)
		}
	}
	ijkToRAS := geometry.Affine(h.IJKToRAS)
	if _, err := ijkToRAS.Inverse(); err != nil {
		return nil, fmt.Errorf("volume %q: %w", h.Name, err)
	}

	samplePath := h.SampleFile
	if !filepath.IsAbs(samplePath) {
		samplePath = filepath.Join(filepath.Dir(headerPath), samplePath)
	}
	file, err := os.Open(samplePath)
	if err != nil {
		return nil, fmt.Errorf("error opening sample file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading sample file: %w", err)
	}
	// the sample count is checked against the file before allocating
	available := info.Size() / 8
	count := int64(1)
	for _, n := range h.Dims {
		if count > available/int64(n) {
			return nil, fmt.Errorf("%w: %s holds %d samples, header dimensions %v need more",
				ErrTruncatedSamples, samplePath, available, h.Dims)
		}
		count *= int64(n)
	}

	v := models.NewVolume(h.Name, h.Dims, ijkToRAS)
	if err := binary.Read(bufio.NewReader(file), binary.LittleEndian, v.Data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s holds fewer than %d samples", ErrTruncatedSamples, samplePath, len(v.Data))
		}
		return nil, fmt.Errorf("error reading samples: %w", err)
	}
	return v, nil
}

// landmarkFile is the YAML layout of a landmark set.
type landmarkFile struct {
	Name   string       `yaml:"name"`
	Points [][3]float64 `yaml:"points,flow"`
}

// LoadLandmarks reads a landmark set.
func LoadLandmarks(path string) (*models.LandmarkSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading landmark file: %w", err)
	}
	var f landmarkFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing landmark file %s: %w", path, err)
	}
	set := models.NewLandmarkSet(f.Name)
	for _, p := range f.Points {
		set.Add(r3.Vec{X: p[0], Y: p[1], Z: p[2]})
	}
	return set, nil
}

// SaveLandmarks writes set to path.
func SaveLandmarks(path string, set *models.LandmarkSet) error {
	f := landmarkFile{Name: set.Name}
	for _, p := range set.Points() {
		f.Points = append(f.Points, [3]float64{p.X, p.Y, p.Z})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("error marshaling landmarks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating landmark directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing landmark file: %w", err)
	}
	return nil
}
