package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"gbmbkg/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeFit(record model.FitRecord) ([]byte, error) {
	if record.RunID == "" {
		return nil, errors.New("run id is required")
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return nil, err
	}
	return json.Marshal(record)
}

func DecodeFit(data []byte) (model.FitRecord, error) {
	var record model.FitRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.FitRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.FitRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema %d codec %d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
