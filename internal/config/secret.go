package config

// Secret wraps a credential so it cannot leak through default formatting.
// fmt verbs, %v/%s/%q included, render the placeholder; the real value is
// only reachable through Reveal.
type Secret string

const redactedPlaceholder = "<redacted>"

// Reveal returns the underlying value. Call sites are the audit trail for
// where credentials actually flow.
func (s Secret) Reveal() string { return string(s) }

// Set reports whether a value is present.
func (s Secret) Set() bool { return s != "" }

func (s Secret) String() string { return redactedPlaceholder }

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string { return "config.Secret(" + redactedPlaceholder + ")" }

// MarshalText keeps JSON/TOML encoders from leaking the value.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redactedPlaceholder), nil }

// UnmarshalText lets Secret fields load from TOML files.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
