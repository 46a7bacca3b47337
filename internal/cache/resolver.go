package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AddressingMode selects how an entry's id and filename are derived.
type AddressingMode int

const (
	// ContentKeyed entries are addressed by a hash of the caller's path.
	ContentKeyed AddressingMode = iota
	// NameKeyed entries keep a human-readable filename derived from the caller's name.
	NameKeyed
)

func (m AddressingMode) String() string {
	switch m {
	case ContentKeyed:
		return "content"
	case NameKeyed:
		return "name"
	default:
		return "unknown"
	}
}

// ParseAddressingMode parses "content" or "name".
func ParseAddressingMode(s string) (AddressingMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "content":
		return ContentKeyed, true
	case "name":
		return NameKeyed, true
	default:
		return ContentKeyed, false
	}
}

// Key is a lookup handle bound to one addressing mode.
type Key struct {
	Mode  AddressingMode
	Value string
}

// ContentKey builds a content-keyed lookup for a source path.
func ContentKey(path string) Key {
	return Key{Mode: ContentKeyed, Value: path}
}

// NameKey builds a name-keyed lookup for an original filename.
func NameKey(name string) Key {
	return Key{Mode: NameKeyed, Value: name}
}

func (k Key) String() string {
	return k.Mode.String() + ":" + k.Value
}

// contentID derives the deterministic id of a content-keyed entry.
func contentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// nameID derives the id of a name-keyed entry written at t.
func nameID(name string, t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(name)) + "_" + strconv.FormatInt(t.UnixMilli(), 36)
}

// modeForID recovers the addressing mode from the shape of a persisted id.
func modeForID(id string) AddressingMode {
	if len(id) != sha256.Size*2 {
		return NameKeyed
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return NameKeyed
		}
	}
	return ContentKeyed
}

// baseName returns the filesystem-safe stem of a caller-supplied filename.
func baseName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	stem = strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, stem)
	stem = strings.Trim(stem, " .")
	if stem == "" {
		return "image"
	}
	return stem
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

// resolveFileName returns the on-disk filename for a new entry.
func resolveFileName(key Key, id, format string) string {
	if key.Mode == NameKeyed {
		return baseName(key.Value) + "." + format
	}
	return id + "." + format
}

func fileStem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// matches reports whether entry was created under key's scheme for key's value.
func (k Key) matches(e *CacheEntry) bool {
	if e.Mode != k.Mode {
		return false
	}
	switch k.Mode {
	case ContentKeyed:
		return e.ID == contentID(k.Value)
	case NameKeyed:
		if e.OriginalPath == "" {
			// rebuilt entries lost their original name; fall back to the file stem
			return fileStem(e.CachedPath) == baseName(k.Value)
		}
		return filepath.Base(e.OriginalPath) == filepath.Base(k.Value)
	default:
		return false
	}
}
