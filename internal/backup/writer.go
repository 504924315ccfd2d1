package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotFileName is the terminal result file a polling caller waits for.
const SnapshotFileName = "backup.json"

// CompactFileName is the optional msgpack rendition written next to the
// JSON snapshot.
const CompactFileName = "backup.msgpack"

const circularMarker = "[circular]"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrMissingBackupInfo = errors.New("snapshot missing backup_info")
	ErrMissingServerInfo = errors.New("snapshot missing server_info")
)

// Validate checks the assembled snapshot for the required top-level fields
// and normalises any nil array field to an empty slice. Normalisation is
// defensive, not a failure: an absent section already means "nothing
// contributed" and must still serialize as [].
func Validate(snapshot *Snapshot) (*Snapshot, error) {
	if snapshot == nil {
		return nil, errors.New("snapshot is nil")
	}
	if snapshot.BackupInfo.Timestamp == "" {
		return nil, ErrMissingBackupInfo
	}
	if snapshot.ServerInfo.Name == "" && snapshot.ServerInfo.ID == "" {
		return nil, ErrMissingServerInfo
	}

	snapshot.Roles = emptyIfNil(snapshot.Roles)
	snapshot.Channels = emptyIfNil(snapshot.Channels)
	snapshot.Emojis = emptyIfNil(snapshot.Emojis)
	snapshot.Stickers = emptyIfNil(snapshot.Stickers)
	snapshot.BannedUsers = emptyIfNil(snapshot.BannedUsers)
	return snapshot, nil
}

func emptyIfNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Marshal serializes the snapshot to pretty-printed JSON. When the primary
// encoder fails (a reference cycle introduced by a caller bug is the only
// realistic cause) the cycle-safe fallback takes over; Marshal never returns
// an error together with empty output.
func Marshal(snapshot *Snapshot) []byte {
	data, err := jsonAPI.MarshalIndent(snapshot, "", "  ")
	if err == nil {
		return data
	}
	return SafeMarshal(snapshot)
}

// SafeMarshal is the last line of defense before data loss: it rewrites the
// value into a plain tree, replacing repeated object references with a
// sentinel marker and stringifying 64-bit integers that a JSON number cannot
// carry, then encodes that tree. It never fails.
func SafeMarshal(v any) []byte {
	tree := sanitize(reflect.ValueOf(v), map[uintptr]bool{})
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		// The sanitized tree holds only plain values; this cannot happen.
		return []byte("{}")
	}
	return data
}

func sanitize(v reflect.Value, seen map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return circularMarker
		}
		seen[addr] = true
		out := sanitize(v.Elem(), seen)
		delete(seen, addr)
		return out
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), seen)
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, omit := jsonFieldName(field)
			if name == "-" {
				continue
			}
			value := sanitize(v.Field(i), seen)
			if omit && isEmptyValue(value) {
				continue
			}
			out[name] = value
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if seen[addr] {
			return circularMarker
		}
		seen[addr] = true
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value(), seen)
		}
		delete(seen, addr)
		return out
	case reflect.Slice:
		if v.IsNil() {
			return []any{}
		}
		addr := v.Pointer()
		if seen[addr] {
			return circularMarker
		}
		seen[addr] = true
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i), seen)
		}
		delete(seen, addr)
		return out
	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i), seen)
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n > maxSafeInteger || n < -maxSafeInteger {
			return strconv.FormatInt(n, 10)
		}
		return n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		if n > uint64(maxSafeInteger) {
			return strconv.FormatUint(n, 10)
		}
		return n
	default:
		return v.Interface()
	}
}

func jsonFieldName(field reflect.StructField) (name string, omitempty bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = field.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int64:
		return x == 0
	case uint64:
		return x == 0
	case bool:
		return !x
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// Write validates, serializes, and persists the snapshot as backup.json
// under dir.
func Write(dir string, snapshot *Snapshot) error {
	validated, err := Validate(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	path := filepath.Join(dir, SnapshotFileName)
	if err := os.WriteFile(path, Marshal(validated), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// WriteCompact persists the validated snapshot as msgpack beside the JSON
// file, for consumers that want the compact binary form.
func WriteCompact(dir string, snapshot *Snapshot) error {
	validated, err := Validate(snapshot)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(validated)
	if err != nil {
		return fmt.Errorf("encode compact snapshot: %w", err)
	}
	path := filepath.Join(dir, CompactFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write compact snapshot: %w", err)
	}
	return nil
}

// WriteErrorMarker writes the minimal error snapshot a polling caller finds
// when a run dies before producing real data. All array fields are present
// and empty, and backup_info.error carries the failure reason.
func WriteErrorMarker(dir, creator string, cause error) error {
	marker := NewSnapshot(time.Now().UTC().Format(time.RFC3339), creator)
	if marker.BackupInfo.Creator == "" {
		marker.BackupInfo.Creator = "SYSTEM"
	}
	if cause != nil {
		marker.BackupInfo.Error = cause.Error()
	}
	marker.ServerInfo = ServerInfo{Name: "unknown", ID: "unknown"}
	return Write(dir, marker)
}
