package access

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// DomainConnection separates record fingerprints from other hashes.
const DomainConnection = "grantlink/connection/v1"

// MarshalCanonical produces RFC 8785 style canonical JSON: object keys in
// UTF-16 code unit order, no HTML escaping, NFC normalized strings.
// Accepted values are string, bool, int, int64, []any and map[string]any.
// Floats and nil are rejected.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return writeCanonicalString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		fmt.Fprintf(buf, "%d", val)
	case int64:
		fmt.Fprintf(buf, "%d", val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		buf.WriteByte('{')
		for i, k := range sortedKeys(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case float32, float64:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes emitted by
// encoding/json back into literal characters. Escape sequences are consumed
// pairwise so an escaped backslash followed by "u2028" is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}
		if i+5 < len(data) && string(data[i+1:i+5]) == "u202" && (data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, data[i], data[i+1])
		i++
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessUTF16(keys[i], keys[j])
	})
	return keys
}

func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// CanonicalMap returns the content of the entry as a canonical map. Empty
// optional fields are omitted.
func (g GrantedAccess) CanonicalMap() map[string]any {
	m := map[string]any{
		"service":     g.Service,
		"entity_id":   g.EntityID,
		"access_type": string(g.AccessType),
		"success":     g.Success,
	}
	if g.AgencyEmail != "" {
		m["agency_email"] = g.AgencyEmail
	}
	if g.AgencyIdentifier != "" {
		m["agency_identifier"] = g.AgencyIdentifier
	}
	if g.PermissionLevel != "" {
		m["permission_level"] = g.PermissionLevel
	}
	return m
}

// CanonicalMap returns the content of the record as a canonical map.
// Version is excluded: two records with the same content compare equal
// regardless of how many writes produced them.
func (r ConnectionResult) CanonicalMap() map[string]any {
	users := make(map[string]any, len(r.PlatformUserIDs))
	for p, id := range r.PlatformUserIDs {
		if id != "" {
			users[string(p)] = id
		}
	}
	grants := make(map[string]any, len(r.GrantedAccesses))
	for p, list := range r.GrantedAccesses {
		entries := make([]any, len(list))
		for i, g := range list {
			entries[i] = g.CanonicalMap()
		}
		grants[string(p)] = entries
	}
	return map[string]any{
		"id":                 r.ID,
		"agency_id":          r.AgencyID,
		"connection_link_id": r.ConnectionLinkID,
		"access_type":        string(r.AccessType),
		"users":              users,
		"granted_accesses":   grants,
	}
}

// Fingerprint hashes the canonical content of r.
// Format: hex(SHA256(domain + 0x00 + canonical JSON)).
func Fingerprint(r ConnectionResult) (string, error) {
	data, err := MarshalCanonical(r.CanonicalMap())
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainConnection))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
