package policy

import "strings"

// PolicyKey identifies the policy scope for one logical operation,
// e.g. {Namespace: "todos", Name: "create"}.
type PolicyKey struct {
	Namespace string
	Name      string
}

// ParseKey parses "namespace.name" into a PolicyKey. A string without a
// namespace separator becomes a bare Name. Surrounding whitespace is trimmed.
func ParseKey(s string) PolicyKey {
	s = strings.TrimSpace(s)
	if s == "" {
		return PolicyKey{}
	}

	idx := strings.Index(s, ".")
	if idx <= 0 {
		return PolicyKey{Name: strings.TrimSpace(strings.TrimPrefix(s, "."))}
	}

	ns := strings.TrimSpace(s[:idx])
	name := strings.TrimSpace(s[idx+1:])
	if name == "" {
		// Trailing dot with no name: treat the whole string as a name.
		return PolicyKey{Name: s}
	}
	return PolicyKey{Namespace: ns, Name: name}
}

func (k PolicyKey) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	if k.Name == "" {
		return k.Namespace
	}
	return k.Namespace + "." + k.Name
}
