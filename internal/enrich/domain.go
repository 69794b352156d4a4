package enrich

import "strings"

// ResolveDomain extracts a bare lowercase host from a URL-ish string:
// "https://www.Example.com/about" and "www.Example.com" both give
// "example.com". It returns "" when no dotted host is present.
func ResolveDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	s = strings.Trim(s, ".")
	if !strings.Contains(s, ".") || strings.ContainsAny(s, " \t") {
		return ""
	}
	return s
}

// prospectDomain resolves the company domain, falling back to the profile URL.
func prospectDomain(companyURL, profileURL string) string {
	if d := ResolveDomain(companyURL); d != "" {
		return d
	}
	return ResolveDomain(profileURL)
}
