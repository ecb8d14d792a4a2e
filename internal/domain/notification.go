package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProductNotification is a single "new product available" announcement
// decoded from the stream. Transient: it exists only long enough to be
// turned into a DownloadKey.
type ProductNotification struct {
	ProductType string
	TimeMs      int64
	Period      string // ISO 8601 duration, informational only
}

// Key returns the identity of the product instance this notification
// announces.
func (n ProductNotification) Key() DownloadKey {
	return DownloadKey{ProductType: n.ProductType, TimeMs: n.TimeMs}
}

// DownloadKey identifies one product instance: the (productType, time) pair.
type DownloadKey struct {
	ProductType string
	TimeMs      int64
}

// String renders the key as "TYPE:epochms", the form used in logs and as
// the Kafka record key.
func (k DownloadKey) String() string {
	return fmt.Sprintf("%s:%d", k.ProductType, k.TimeMs)
}

// Time returns the product instant as a UTC time.
func (k DownloadKey) Time() time.Time {
	return time.UnixMilli(k.TimeMs).UTC()
}

// RemoteKey returns the object key the platform assigns to this product
// instance, "TYPE/DD-MM-YYYY-HH-MM.tif". The dispatcher uses it to predict
// the artifact's local path before spending a resolution call; the resolver
// response remains authoritative for the actual fetch destination.
func (k DownloadKey) RemoteKey() string {
	return fmt.Sprintf("%s/%s.tif", k.ProductType, k.Time().Format("02-01-2006-15-04"))
}

// ResolvedLocation is the downloadProduct API response: where the product
// bytes live and a presigned URL to get them. Valid only for ExpiresSeconds
// from issuance; never cached or reused beyond one fetch attempt.
type ResolvedLocation struct {
	Bucket         string `json:"bucket"`
	Key            string `json:"key"`
	URL            string `json:"url"`
	ExpiresSeconds int    `json:"expiresSeconds"`
}

// ErrNotNotification reports a JSON value that parsed but does not carry the
// productType/time pair required of a notification.
var ErrNotNotification = errors.New("not a product notification")

// wireNotification tolerates the field spellings and numeric types seen on
// the feed. Time fields are floats because some producers emit them in
// scientific notation.
type wireNotification struct {
	ProductType string          `json:"productType"`
	AltType     string          `json:"type"`
	Time        *float64        `json:"time"`
	ProductDate *float64        `json:"productDate"`
	Timestamp   *float64        `json:"timestamp"`
	Period      string          `json:"period"`
	Data        json.RawMessage `json:"data"`
}

func (w wireNotification) normalize() (ProductNotification, error) {
	productType := strings.TrimSpace(w.ProductType)
	if productType == "" {
		productType = strings.TrimSpace(w.AltType)
	}

	var ms *float64
	for _, candidate := range []*float64{w.Time, w.ProductDate, w.Timestamp} {
		if candidate != nil {
			ms = candidate
			break
		}
	}

	if productType == "" || ms == nil {
		return ProductNotification{}, ErrNotNotification
	}

	return ProductNotification{
		ProductType: productType,
		TimeMs:      int64(*ms),
		Period:      w.Period,
	}, nil
}

// DecodeNotifications parses one stream message into zero or more
// notifications. It accepts a bare object, a {"data": {...}} envelope, a
// JSON array, or NDJSON lines. The returned error describes chunks that
// could not be decoded; notifications decoded from the remaining chunks are
// still returned, so callers can log the error and keep going.
func DecodeNotifications(message []byte) ([]ProductNotification, error) {
	message = bytes.TrimSpace(message)
	if len(message) == 0 {
		return nil, nil
	}

	chunks := [][]byte{message}
	if bytes.ContainsRune(message, '\n') && message[0] != '[' {
		chunks = bytes.Split(message, []byte("\n"))
	}

	var (
		notifications []ProductNotification
		errs          []error
	)
	for _, chunk := range chunks {
		chunk = bytes.TrimSpace(chunk)
		if len(chunk) == 0 {
			continue
		}
		decoded, err := decodeChunk(chunk)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		notifications = append(notifications, decoded...)
	}
	return notifications, errors.Join(errs...)
}

func decodeChunk(chunk []byte) ([]ProductNotification, error) {
	if chunk[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(chunk, &items); err != nil {
			return nil, fmt.Errorf("decode notification array: %w", err)
		}
		var out []ProductNotification
		for _, item := range items {
			n, err := decodeObject(item)
			if err != nil {
				// Arrays mix notifications with unrelated status objects;
				// skip the latter silently, as the browser client does.
				continue
			}
			out = append(out, n)
		}
		return out, nil
	}

	n, err := decodeObject(chunk)
	if err != nil {
		return nil, err
	}
	return []ProductNotification{n}, nil
}

func decodeObject(raw []byte) (ProductNotification, error) {
	var w wireNotification
	if err := json.Unmarshal(raw, &w); err != nil {
		return ProductNotification{}, fmt.Errorf("decode notification: %w", err)
	}

	// Unwrap a {"data": {...}} envelope when the inner object is itself a
	// notification.
	if len(w.Data) > 0 {
		var inner wireNotification
		if err := json.Unmarshal(w.Data, &inner); err == nil {
			if n, err := inner.normalize(); err == nil {
				return n, nil
			}
		}
	}

	return w.normalize()
}
