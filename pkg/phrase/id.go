package phrase

import "strings"

// Split returns the domain and the remainder of id. An id without a
// separator has an empty domain.
func Split(id string) (domain, rest string) {
	i := strings.Index(id, Separator)
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+len(Separator):]
}

// DomainOf is the id prefix before the first separator.
func DomainOf(id string) string {
	d, _ := Split(id)
	return d
}

// BuildID joins domain and a slash-separated url into an id.
func BuildID(domain, url string) string {
	url = strings.Trim(url, "/")
	return domain + Separator + strings.ReplaceAll(url, "/", Separator)
}

// Path maps an id to its route path: every separator becomes "/".
func Path(id string) string {
	return "/" + strings.ReplaceAll(id, Separator, "/")
}

// Pattern rewrites ":name" path segments into the router's "{name}" form.
func Pattern(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if len(s) > 1 && s[0] == ':' {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}
