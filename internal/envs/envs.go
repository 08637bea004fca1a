// Package envs reads typed values out of an environment map.
//
// The CLI carries the process environment as a map so commands and tests
// see exactly the same view; nothing in this module calls os.Getenv after
// startup.
package envs

import "strconv"

// Lookup returns the value for key and whether it is present and non-empty.
func Lookup(env map[string]string, key string) (string, bool) {
	v, ok := env[key]
	if !ok || v == "" {
		return "", false
	}

	return v, true
}

// String returns the value for key, or fallback when unset or empty.
func String(env map[string]string, key, fallback string) string {
	if v, ok := Lookup(env, key); ok {
		return v
	}

	return fallback
}

// Int64 parses the value for key as a base-10 integer. Unset, empty, or
// unparsable values report ok false.
func Int64(env map[string]string, key string) (int64, bool) {
	v, ok := Lookup(env, key)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// Bool reports whether the value for key is a common truthy spelling of
// "1", "true", or "yes". Anything else is false.
func Bool(env map[string]string, key string) bool {
	v, ok := Lookup(env, key)
	if !ok {
		return false
	}

	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	}

	return false
}
