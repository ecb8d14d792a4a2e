package domain

import "time"

// DownloadRecord describes one completed download. When the Kafka publisher
// is enabled, a record is emitted per archived product so downstream
// indexers can track the archive without scanning the filesystem.
type DownloadRecord struct {
	ProductType  string    `json:"product_type"`
	ProductTime  time.Time `json:"product_time"`
	Bucket       string    `json:"bucket,omitempty"`
	RemoteKey    string    `json:"remote_key"`
	LocalPath    string    `json:"local_path"`
	Bytes        int64     `json:"bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewDownloadRecord builds the record for a finished task. DownloadedAt
// comes from the package clock so fixtures and tests stay deterministic.
func NewDownloadRecord(key DownloadKey, loc ResolvedLocation, localPath string, size int64) DownloadRecord {
	return DownloadRecord{
		ProductType:  key.ProductType,
		ProductTime:  key.Time(),
		Bucket:       loc.Bucket,
		RemoteKey:    loc.Key,
		LocalPath:    localPath,
		Bytes:        size,
		DownloadedAt: clock.Now().UTC(),
	}
}
