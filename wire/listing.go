package wire

import "strings"

// PathEntry is one "user/name" element of a flag listing.
type PathEntry struct {
	User string
	Name string
}

// ParsePathListing parses "user/name;user/name" listings. Malformed
// entries are dropped and counted.
func ParsePathListing(data []byte) ([]PathEntry, int) {
	var (
		out     []PathEntry
		skipped int
	)
	for _, line := range Lines(data) {
		for _, ent := range strings.Split(line, ";") {
			ent = strings.TrimSpace(ent)
			if ent == "" {
				continue
			}
			user, name, ok := strings.Cut(ent, "/")
			user = strings.TrimSpace(user)
			name = strings.TrimSpace(name)
			if !ok || user == "" || name == "" {
				skipped++
				continue
			}
			out = append(out, PathEntry{User: user, Name: name})
		}
	}
	return out, skipped
}

// NameEntry is one user with their listed artifact names.
type NameEntry struct {
	User  string
	Names []string
}

// ParseNameListing parses "user:a,b;user2:c" listings. Entries without a
// user are dropped and counted; users listing no names are dropped
// silently.
func ParseNameListing(data []byte) ([]NameEntry, int) {
	var (
		out     []NameEntry
		skipped int
	)
	for _, line := range Lines(data) {
		for _, ent := range strings.Split(line, ";") {
			ent = strings.TrimSpace(ent)
			if ent == "" {
				continue
			}
			user, rest, ok := strings.Cut(ent, ":")
			user = strings.TrimSpace(user)
			if !ok || user == "" {
				skipped++
				continue
			}
			var names []string
			for _, name := range strings.Split(rest, ",") {
				if name = strings.TrimSpace(name); name != "" {
					names = append(names, name)
				}
			}
			if len(names) == 0 {
				continue
			}
			out = append(out, NameEntry{User: user, Names: names})
		}
	}
	return out, skipped
}
