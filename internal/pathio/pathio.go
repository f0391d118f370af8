// Package pathio provides the kernel's file-system primitives: state-root
// resolution, atomic durable writes, canonical JSON encoding, and content
// hashing. Every other package that touches disk goes through here so the
// write-temp-and-rename discipline is enforced in exactly one place.
package pathio

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const dirMode = 0o755
const fileMode = 0o644

// ResolveStateRoot finds the kernel's state root using the resolution order:
// explicit path, then CSK_STATE_ROOT, then walking up from cwd looking for
// a .git or .csk directory, then falling back to cwd itself.
func ResolveStateRoot(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("resolving explicit state root: %w", err)
		}
		return abs, nil
	}

	if env := os.Getenv("CSK_STATE_ROOT"); env != "" {
		abs, err := filepath.Abs(env)
		if err != nil {
			return "", fmt.Errorf("resolving CSK_STATE_ROOT: %w", err)
		}
		return abs, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}

	dir := cwd
	for {
		if hasMarker(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return cwd, nil
}

func hasMarker(dir string) bool {
	for _, marker := range []string{".git", ".csk"} {
		if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, dirMode)
}

// WriteFileAtomic writes data to path by writing to a temp file in the same
// directory and renaming over the destination, so readers never observe a
// partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, fileMode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}
	return nil
}

// WriteJSON marshals v with a stable, human-diffable layout (two-space
// indent, sorted map keys) and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := MarshalJSONIndent(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	return WriteFileAtomic(path, data)
}

// MarshalJSONIndent marshals v to indented JSON with a trailing newline.
// encoding/json already sorts map[string]any keys, matching the
// canonicalizer's sort-keys requirement.
func MarshalJSONIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ReadJSON reads and unmarshals the file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AppendJSONL appends one JSON-encoded line to the file at path, creating
// it and its parent directory if necessary.
func AppendJSONL(path string, v any) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// ReadJSONL calls each with every line of the JSONL file at path, in
// order. A missing file yields no calls, not an error.
func ReadJSONL(path string, each func(line []byte) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				if err := each(data[start:i]); err != nil {
					return err
				}
			}
			start = i + 1
		}
	}
	if start < len(data) {
		if err := each(data[start:]); err != nil {
			return err
		}
	}
	return nil
}

// SHA256Text returns the hex-encoded SHA-256 digest of s.
func SHA256Text(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the hex-encoded SHA-256 digest of b.
func SHA256Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SHA256File returns the hex-encoded SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return SHA256Bytes(data), nil
}

// CanonicalJSON renders v as canonical JSON: object keys sorted, no
// insignificant whitespace, floats rendered via their shortest round-trip
// decimal form. Used to hash data whose byte-for-byte JSON encoding must be
// stable across re-marshaling (slices.json drift detection).
func CanonicalJSON(v any) (string, error) {
	var buf []byte
	err := canonicalEncode(&buf, v)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func canonicalEncode(buf *[]byte, v any) error {
	switch val := v.(type) {
	case nil:
		*buf = append(*buf, "null"...)
	case bool:
		if val {
			*buf = append(*buf, "true"...)
		} else {
			*buf = append(*buf, "false"...)
		}
	case float64:
		*buf = append(*buf, strconv.FormatFloat(val, 'g', -1, 64)...)
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		*buf = append(*buf, enc...)
	case []any:
		*buf = append(*buf, '[')
		for i, item := range val {
			if i > 0 {
				*buf = append(*buf, ',')
			}
			if err := canonicalEncode(buf, item); err != nil {
				return err
			}
		}
		*buf = append(*buf, ']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		*buf = append(*buf, '{')
		for i, k := range keys {
			if i > 0 {
				*buf = append(*buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			*buf = append(*buf, kb...)
			*buf = append(*buf, ':')
			if err := canonicalEncode(buf, val[k]); err != nil {
				return err
			}
		}
		*buf = append(*buf, '}')
	default:
		// Fall back to a round-trip through json for structs and other
		// concrete types, normalizing to the map/slice/float forms above.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		return canonicalEncode(buf, generic)
	}
	return nil
}

// CanonicalHash returns the SHA-256 hash of v's canonical JSON form.
func CanonicalHash(v any) (string, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Text(canon), nil
}
