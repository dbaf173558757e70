package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"go-media-reconcile/internal/metavalue"
)

type (
	Config struct {
		// Paths
		LibraryPath   string `toml:"LibraryPath"`
		DatabasePath  string `toml:"DatabasePath"`
		IndexPath     string `toml:"IndexPath"`     // Bleve index used by the asset resolver
		DecisionsPath string `toml:"DecisionsPath"` // YAML or JSON decision file

		// Origins
		PublicBaseURL string `toml:"PublicBaseURL"` // Canonical origin of the local store
		MirrorBaseURL string `toml:"MirrorBaseURL"` // Optional trusted mirror
		AllowExternal bool   `toml:"AllowExternal"`

		// Transport
		TransportMode   string `toml:"TransportMode"` // auto, bundled, remote
		FetchTimeoutSec int    `toml:"FetchTimeoutSec"`
		UserAgent       string `toml:"UserAgent"`

		// Other
		LogFetchRequests bool `toml:"LogFetchRequests"`
	}

	// Manifest is one exported content snapshot.
	Manifest struct {
		Items      []ContentItem     `json:"items"`
		MediaIndex []json.RawMessage `json:"media_index"` // Decoded per entry so one bad entry cannot sink the run
		Bundle     Bundle            `json:"media_bundle"`

		// Path of the manifest file on disk, if it came from one.
		SourcePath string `json:"-"`
	}

	// Bundle carries transport hints written by the exporter.
	Bundle struct {
		Root  string         `json:"root,omitempty"` // Relative to the manifest file
		Mode  string         `json:"mode,omitempty"`
		Hints map[string]any `json:"-"`
	}

	AssetDescriptor struct {
		OriginalID   ID     `json:"original_id"`
		AssetUID     string `json:"asset_uid"`
		SourceURL    string `json:"source_url"`
		RelativePath string `json:"relative_path"`
		BundlePath   string `json:"bundle_path"`
		Hash         string `json:"hash"` // algorithm:hexdigest
		MimeType     string `json:"mime_type"`
		Filename     string `json:"filename"`
		Title        string `json:"title"`
		Filesize     int64  `json:"filesize"`
	}

	ContentItem struct {
		ItemType   string     `json:"item_type"`
		ContentRef ContentRef `json:"content_ref"`
		PostType   string     `json:"post_type,omitempty"`
		MediaRefs  MediaRefs  `json:"media_refs"`
	}

	// ContentRef identifies a content item across environments.
	ContentRef struct {
		UID        string `json:"uid,omitempty"`
		OriginalID ID     `json:"original_id,omitempty"`
	}

	MediaRefs struct {
		Meta    []MetaRef `json:"meta"`
		Content []BodyRef `json:"content"`
	}

	// MetaRef points at an asset id stored inside structured metadata.
	MetaRef struct {
		OriginalID ID             `json:"original_id"`
		MetaKey    string         `json:"meta_key"`
		ValueIndex int            `json:"value_index"`
		Path       metavalue.Path `json:"path"`
		Primary    bool           `json:"primary,omitempty"`
	}

	// BodyRef is a literal asset URL occurring in a rich-text body.
	BodyRef struct {
		OriginalURL string `json:"original_url"`
		OriginalID  ID     `json:"original_id,omitempty"`
	}

	// AssetRecord is a materialized asset in the local library.
	AssetRecord struct {
		ID           int64  `json:"id"`
		OriginalID   int64  `json:"originalId,omitempty"` // Marker used for idempotent lookup
		AssetUID     string `json:"assetUid,omitempty"`
		SourceURL    string `json:"sourceUrl,omitempty"`
		RelativePath string `json:"relativePath"` // Relative to the library root
		Filename     string `json:"filename"`
		Title        string `json:"title,omitempty"`
		MimeType     string `json:"mimeType,omitempty"`
		Hash         string `json:"hash"`
		Size         int64  `json:"size"`
		Timestamp    int64  `json:"timestamp"`
	}

	// Decision overrides how one original asset id is resolved.
	Decision struct {
		Action   string `json:"action" yaml:"action"`
		TargetID int64  `json:"target_id,omitempty" yaml:"target_id,omitempty"`
		Scope    string `json:"scope,omitempty" yaml:"scope,omitempty"`
	}

	// Stats are the counters returned to the caller after a run.
	Stats struct {
		Downloaded     int `json:"downloaded"`
		Reused         int `json:"reused"`
		UpdatedPosts   int `json:"updated_posts"`
		MetaUpdates    int `json:"meta_updates"`
		ContentUpdates int `json:"content_updates"`
		Errors         int `json:"errors"`
		Blocked        int `json:"blocked"`
	}
)

// Transport modes
const (
	TransportAuto    = "auto"
	TransportBundled = "bundled"
	TransportRemote  = "remote"
)

// Decision actions and scopes
const (
	ActionReuse    = "reuse"
	ActionMap      = "map"
	ActionSkip     = "skip"
	ActionDownload = "download"

	ScopeRun    = "run"
	ScopeGlobal = "global"
)

// ID is an original identifier as written by the exporter. Exporters are not
// consistent about quoting, so both 12 and "12" decode; anything else decodes
// to zero and is treated as missing.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*id = 0
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Accept 12.0 from exporters that emit floats.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			*id = 0
			return nil
		}
		n = int64(f)
	}
	*id = ID(n)
	return nil
}

// Valid reports whether the id can be used as a key.
func (id ID) Valid() bool {
	return id > 0
}

// UnmarshalJSON keeps the declared fields and retains everything as hints.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var hints map[string]any
	if err := json.Unmarshal(data, &hints); err != nil {
		return err
	}
	b.Hints = hints
	if v, ok := hints["root"].(string); ok {
		b.Root = v
	}
	if v, ok := hints["mode"].(string); ok {
		b.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	return nil
}

// UnmarshalJSON accepts either an object or a bare uid string.
func (c *ContentRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var uid string
		if err := json.Unmarshal(data, &uid); err != nil {
			return err
		}
		c.UID = uid
		return nil
	}
	type plain ContentRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ContentRef(p)
	return nil
}

// BundleFile returns the bundle-relative path of the asset, preferring relative_path.
func (d AssetDescriptor) BundleFile() string {
	if p := strings.TrimSpace(d.RelativePath); p != "" {
		return p
	}
	return strings.TrimSpace(d.BundlePath)
}

// HasRefs reports whether the item references any asset.
func (c ContentItem) HasRefs() bool {
	return len(c.MediaRefs.Meta) > 0 || len(c.MediaRefs.Content) > 0
}

// DeclaredType is the type used to resolve the item locally.
func (c ContentItem) DeclaredType() string {
	if c.PostType != "" {
		return c.PostType
	}
	return c.ItemType
}

// ValidTransportMode reports whether mode is a known transport mode.
func ValidTransportMode(mode string) bool {
	switch mode {
	case TransportAuto, TransportBundled, TransportRemote:
		return true
	}
	return false
}
