package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DedupKey returns the identifier used to recognize duplicate deliveries of
// the same logical event. When the source supplied an external event id that
// id wins; otherwise a stable content hash of the normalized payload plus a
// time bucket covers sources that re-deliver without ids.
func DedupKey(event NormalizedEvent, now time.Time, bucket time.Duration) string {
	if id := strings.TrimSpace(event.ExternalEventID); id != "" {
		return id
	}
	return contentHashKey(event, now, bucket)
}

func contentHashKey(event NormalizedEvent, now time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Minute
	}
	hasher := sha256.New()
	hasher.Write([]byte(strings.TrimSpace(event.EventType)))
	hasher.Write([]byte{0})
	hasher.Write([]byte(strings.TrimSpace(event.TenantID)))
	hasher.Write([]byte{0})
	hasher.Write(canonicalPayloadBytes(event.Payload))
	hasher.Write([]byte{0})
	hasher.Write([]byte(strconv.FormatInt(now.UTC().Truncate(bucket).Unix(), 10)))
	return "sha256:" + hex.EncodeToString(hasher.Sum(nil))
}

// canonicalPayloadBytes serializes a payload with deterministic key order so
// equal payloads always hash equally.
func canonicalPayloadBytes(payload map[string]any) []byte {
	if len(payload) == 0 {
		return []byte("{}")
	}
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			builder.WriteByte(',')
		}
		keyBytes, _ := json.Marshal(key)
		builder.Write(keyBytes)
		builder.WriteByte(':')
		builder.Write(canonicalValueBytes(payload[key]))
	}
	builder.WriteByte('}')
	return []byte(builder.String())
}

func canonicalValueBytes(value any) []byte {
	if nested, ok := value.(map[string]any); ok {
		return canonicalPayloadBytes(nested)
	}
	if list, ok := value.([]any); ok {
		var builder strings.Builder
		builder.WriteByte('[')
		for i, item := range list {
			if i > 0 {
				builder.WriteByte(',')
			}
			builder.Write(canonicalValueBytes(item))
		}
		builder.WriteByte(']')
		return []byte(builder.String())
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return []byte("null")
	}
	return encoded
}
