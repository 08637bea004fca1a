package dlx

// metadataVersion is the schema version written into new metadata files.
// Readers accept any version; unknown fields are ignored on decode.
const metadataVersion = "1.0.0"

const (
	// metadataFile is the per-entry metadata file, hidden so directory
	// listings of an entry show the artifact first.
	metadataFile = ".dlx-metadata.json"

	// lockFilename is the per-entry download lock sentinel.
	lockFilename = "concurrency.lock"
)

// Source types recorded in metadata.
const (
	SourceDownload      = "download"
	SourceDecompression = "decompression"
)

// Source records where an artifact's bytes came from.
type Source struct {
	// Type is SourceDownload or SourceDecompression.
	Type string `json:"type"`

	// URL is the download URL for SourceDownload entries.
	URL string `json:"url,omitempty"`

	// Path is the origin archive path for SourceDecompression entries.
	Path string `json:"path,omitempty"`
}

// Metadata is the JSON document stored alongside each cached artifact. Its
// timestamp drives TTL-based expiry; a missing or unparsable document makes
// the entry infinitely stale.
type Metadata struct {
	Version  string `json:"version"`
	CacheKey string `json:"cache_key"`

	// Timestamp is the entry write time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	Checksum          string `json:"checksum"`
	ChecksumAlgorithm string `json:"checksum_algorithm"`
	Platform          string `json:"platform"`
	Arch              string `json:"arch"`
	Size              int64  `json:"size"`
	Source            Source `json:"source"`

	// Extra carries caller-defined annotations.
	Extra map[string]any `json:"extra,omitempty"`
}
