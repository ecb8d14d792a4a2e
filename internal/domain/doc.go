// Package domain models the radar product notifications published by the
// Dipartimento della Protezione Civile (DPC) national radar platform.
//
// # Data Source
//
// The DPC radar platform announces every newly generated radar product on a
// public websocket feed. Each text frame carries a JSON notification:
//
//	{"productType": "VMI", "time": 1758794400000, "period": "PT5M"}
//
// where productType is the mosaic product code (VMI, SRI, TEMP, HRD, ...),
// time is the product instant in epoch milliseconds, and period is the ISO
// 8601 generation cadence, carried for information only. The feed is
// best-effort: frames observed in the wild also arrive wrapped in a
// {"data": {...}} envelope, as JSON arrays, or as newline-delimited JSON,
// and some producers spell the fields "type", "productDate" or "timestamp".
// [DecodeNotifications] accepts all of these shapes.
//
// # Identity
//
// A product instance is uniquely identified by its [DownloadKey], the
// (productType, time) pair. Two notifications with the same key announce the
// same product regardless of any other field, so one download satisfies
// both. The binary payload itself is obtained by exchanging the key for a
// short-lived presigned URL through the downloadProduct API; the resulting
// [ResolvedLocation] must be consumed promptly and is never reused across
// fetch attempts.
//
// # Archive layout
//
// The API names objects with a type-prefixed key such as
// "VMI/22-09-2025-11-40.tif". The archiver mirrors that key verbatim (after
// sanitization) under the configured output root, and treats a non-empty
// file at that path as the authoritative sign that the product instance is
// archived. There is no separate manifest.
package domain
