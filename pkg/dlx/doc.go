// Package dlx downloads, verifies, and caches executable artifacts.
//
// An artifact is any single file fetched from a URL: a platform binary, a
// script, a packed tool. dlx stores each one in a content-keyed cache
// directory, checks it against a pinned checksum, marks it executable, and
// hands back a stable path. Repeat requests for the same URL and name hit
// the cache without touching the network.
//
// # Basic Usage
//
//	store := dlx.NewStore(cacheDir, dlx.StoreOptions{})
//	client, err := dlx.New(dlx.Options{Store: store})
//	if err != nil {
//	    // only fails on missing configuration
//	}
//
//	res, err := client.Acquire(ctx, dlx.Request{
//	    URL:      "https://example.com/tool-linux-amd64",
//	    Name:     "tool",
//	    Checksum: "9f86d08...",
//	})
//	// res.Path is executable and verified
//
// # Cache Layout
//
// Each entry lives in its own directory under the cache root, named by the
// cache key (the hex SHA-256 of url + ":" + name):
//
//	<root>/<key>/<name>                     the artifact
//	<root>/<key>/.dlx-metadata.json         freshness and provenance
//	<root>/<key>/concurrency.lock           held only during a download
//
// # Concurrency
//
// Any number of processes may share one cache root. Downloads are
// serialized per entry through a lock file with stale-lock reclamation, so
// a crashed holder never wedges the cache. Completed entries are immutable
// and read without locking.
//
// # Error Handling
//
// Failures that need operator action carry remediation hints:
// [*PermissionError] and [*ReadOnlyError] for unusable cache directories,
// [*ChecksumError] (matching [ErrChecksumMismatch]) for corrupt or tampered
// downloads, and [*DownloadError] wrapping the final transport failure once
// retries are spent. A checksum mismatch always deletes the offending file
// before returning.
package dlx
