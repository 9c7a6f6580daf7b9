// Package replay sends recorded URL samples to a web server so the sensor in
// front of it produces EVE traffic for the watch command to classify.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var ErrSamples = errors.New("invalid sample file")

// Sample is one row of a sample file: the request URI and its ground-truth
// label.
type Sample struct {
	Query string
	Label string
}

// LoadSamples reads every file in order and concatenates the rows. Files must
// be CSV with a header holding "query" and "label" columns; other columns are
// ignored. Names ending in .gz are decompressed on the fly.
func LoadSamples(paths ...string) ([]Sample, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files given", ErrSamples)
	}

	var samples []Sample
	for _, path := range paths {
		rows, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		samples = append(samples, rows...)
	}
	return samples, nil
}

func loadFile(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSamples, path, err)
		}
		defer gz.Close()
		r = gz
	}

	rows, err := readSamples(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSamples, path, err)
	}
	return rows, nil
}

func readSamples(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, err
	}

	queryCol, labelCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "query":
			queryCol = i
		case "label":
			labelCol = i
		}
	}
	if queryCol < 0 || labelCol < 0 {
		return nil, errors.New(`header must contain "query" and "label" columns`)
	}

	var samples []Sample
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		if queryCol >= len(record) || labelCol >= len(record) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: missing columns", line)
		}
		samples = append(samples, Sample{Query: record[queryCol], Label: record[labelCol]})
	}
}

// Shuffle permutes samples in place. The same seed always yields the same
// order for the same input.
func Shuffle(samples []Sample, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
}
