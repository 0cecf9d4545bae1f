package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gbmbkg/pkg/bkgfit"
)

// loadFitRequest reads a fit config. Relative data paths are resolved
// against the config file's directory.
func loadFitRequest(path string) (bkgfit.FitRequest, error) {
	if path == "" {
		return bkgfit.FitRequest{}, errors.New("--config is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return bkgfit.FitRequest{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var req bkgfit.FitRequest
	if err := dec.Decode(&req); err != nil {
		return bkgfit.FitRequest{}, fmt.Errorf("decode %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range req.Detectors {
		d := &req.Detectors[i]
		d.CountsCSV = resolvePath(base, d.CountsCSV)
		d.McIlwainCSV = resolvePath(base, d.McIlwainCSV)
		d.EarthCSV = resolvePath(base, d.EarthCSV)
		d.CGBCSV = resolvePath(base, d.CGBCSV)
		d.ResponseJSON = resolvePath(base, d.ResponseJSON)
		for name, p := range d.PointSourceCSV {
			d.PointSourceCSV[name] = resolvePath(base, p)
		}
	}
	return req, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// overrideFromFlags applies the fit flags that were set explicitly on top
// of the config file.
func overrideFromFlags(req *bkgfit.FitRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "identifier":
			req.Identifier = v.(string)
		case "live-points":
			req.Sampler.LivePoints = v.(int)
		case "tolerance":
			req.Sampler.Tolerance = v.(float64)
		case "max-iterations":
			req.Sampler.MaxIterations = v.(int)
		case "seed":
			req.Sampler.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "participants":
			req.Participants = v.(int)
		case "exclude-after-saa":
			req.ExcludeAfterSAA = v.(float64)
		case "skip-archive":
			req.SkipArchive = v.(bool)
		}
	}
}
