// Package manifest writes and reads the immutable batch descriptors the
// downstream loader consumes. The wire format mirrors what the loader
// expects: one URI prefix entry per member file plus batch metadata.
package manifest

import (
	"encoding/json"
	"fmt"
)

// FileLocation names one member file of a batch.
type FileLocation struct {
	URIPrefixes []string `json:"URIPrefixes"`
}

// UploadSettings tells the loader how to interpret member files.
type UploadSettings struct {
	Format string `json:"format"`
}

// Metadata carries batch bookkeeping alongside the file list.
type Metadata struct {
	Partition      string `json:"date_prefix"`
	BatchIndex     int    `json:"batch_idx"`
	FileCount      int    `json:"file_count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	CreatedAt      string `json:"created_at"`
}

// Manifest is the artifact persisted once per batch. It is never mutated
// after being written.
type Manifest struct {
	FileLocations        []FileLocation `json:"fileLocations"`
	GlobalUploadSettings UploadSettings `json:"globalUploadSettings"`
	Metadata             Metadata       `json:"metadata"`
}

// FileURIs flattens the manifest's member locations.
func (m Manifest) FileURIs() []string {
	uris := make([]string, 0, len(m.FileLocations))
	for _, loc := range m.FileLocations {
		uris = append(uris, loc.URIPrefixes...)
	}
	return uris
}

// Decode parses a stored manifest document.
func Decode(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
