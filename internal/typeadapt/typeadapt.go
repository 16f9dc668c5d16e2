// Package typeadapt implements the Type Adapter (spec.md §4.1): coercing
// loosely-typed upstream JSON values into typed column values. Unknown
// fields are logged and skipped by callers, never treated as hard errors
// (spec.md §7 taxonomy item 2).
package typeadapt

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pborman/uuid"
	"github.com/xloem/vartex/internal/model"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("typeadapt")

// ToLong coerces nil, a numeric, a string, or an existing int64 into a
// signed 64-bit integer, per spec.md §4.1:
//   - nil or empty string -> 0
//   - non-empty string -> parsed as base-10
//   - numeric -> direct cast
// Overflow is unsupported: blockchain heights and sizes fit signed 64-bit.
func ToLong(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return 0
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			logger.Warn("unparseable numeric string, defaulting to 0", "value", s, "err", err)
			return 0
		}
		return n
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	logger.Warn("unrecognized value for ToLong, defaulting to 0", "raw", string(raw))
	return 0
}

// NameValue is the unordered 2-tuple stored in a Cassandra "set<frozen<tuple<text,text>>>" column.
type NameValue struct {
	Name  string
	Value string
}

// TagSet maps an ordered list of {name, value} into an unordered set of
// 2-tuples. Duplicate (name, value) pairs collapse. Empty input yields an
// empty slice (not a set) to match column-type expectations for an empty
// write (spec.md §4.1, tested by spec.md §8 "Empty tags list").
func TagSet(tags []model.Tag) []NameValue {
	if len(tags) == 0 {
		return []NameValue{}
	}
	seen := make(map[NameValue]struct{}, len(tags))
	out := make([]NameValue, 0, len(tags))
	for _, t := range tags {
		nv := NameValue{Name: t.Name, Value: t.Value}
		if _, ok := seen[nv]; ok {
			continue
		}
		seen[nv] = struct{}{}
		out = append(out, nv)
	}
	return out
}

// TimeUUID produces a time-based UUID from a unix-second timestamp. No table
// column is written from it: block_gql_asc/block_gql_desc (internal/schema)
// cluster on height and indep_hash.
func TimeUUID(unixSeconds int64) uuid.UUID {
	t := time.Unix(unixSeconds, 0).UTC()
	return uuidFromTime(t)
}

// uuidFromTime builds a v1 (time-based) UUID whose timestamp component is t,
// so that Cassandra's timeuuid ordering on the UUID matches chronological
// order on t (plain byte order does not, since time_low comes first). pborman/uuid doesn't expose "build v1 from arbitrary time"
// directly, so the 100ns-tick Gregorian timestamp is assembled by hand the
// way uuid.NewUUID does internally.
func uuidFromTime(t time.Time) uuid.UUID {
	const gregorianOffset = 0x01b21dd213814000 // 100ns ticks between 1582-10-15 and 1970-01-01
	ts := uint64(t.UnixNano()/100) + gregorianOffset

	u := make(uuid.UUID, 16)
	timeLow := uint32(ts & 0xffffffff)
	timeMid := uint16((ts >> 32) & 0xffff)
	timeHi := uint16((ts >> 48) & 0x0fff)

	u[0] = byte(timeLow >> 24)
	u[1] = byte(timeLow >> 16)
	u[2] = byte(timeLow >> 8)
	u[3] = byte(timeLow)
	u[4] = byte(timeMid >> 8)
	u[5] = byte(timeMid)
	u[6] = byte(timeHi>>8) | 0x10 // version 1
	u[7] = byte(timeHi)
	u[8] = 0x80 // RFC4122 variant
	u[9] = 0x00
	copy(u[10:], []byte{0, 0, 0, 0, 0, 0})
	return u
}

// TimeFromUUID inverts TimeUUID, used by internal/querybuilder to turn a
// "since" time-UUID filter back into a unix-second boundary (spec.md §4.7,
// §8 "Time filter").
func TimeFromUUID(id uuid.UUID) (int64, bool) {
	if len(id) != 16 {
		return 0, false
	}
	timeLow := uint64(id[0])<<24 | uint64(id[1])<<16 | uint64(id[2])<<8 | uint64(id[3])
	timeMid := uint64(id[4])<<8 | uint64(id[5])
	timeHi := uint64(id[6]&0x0f)<<8 | uint64(id[7])
	ts := timeLow | (timeMid << 32) | (timeHi << 48)
	const gregorianOffset = 0x01b21dd213814000
	if ts < gregorianOffset {
		return 0, false
	}
	nanos := (ts - gregorianOffset) * 100
	return int64(nanos / 1e9), true
}
