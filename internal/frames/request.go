package frames

import "strings"

// Request is the parsed form of an HTTP request path, per spec.md section
// 6: `/<source_type>/<segment>/…?<k=v>&…`. Grounded in the original
// source's src/http/query.cpp path/query splitter.
type Request struct {
	SourceType string
	Segments   []string
	Params     map[string]string
}

// ParseRequestPath splits path (with an optional leading '/' and trailing
// '?query') into a source type, path segments, and query parameters.
func ParseRequestPath(path string) Request {
	req := Request{Params: map[string]string{}}

	p := path
	if strings.HasPrefix(p, "/") {
		p = p[1:]
	}

	query := ""
	if idx := strings.IndexByte(p, '?'); idx != -1 {
		query = p[idx+1:]
		p = p[:idx]
	}

	if p != "" {
		parts := strings.Split(p, "/")
		req.SourceType = parts[0]
		if len(parts) > 1 {
			req.Segments = parts[1:]
		}
	}

	if query != "" {
		for _, pair := range strings.Split(query, "&") {
			if pair == "" {
				continue
			}
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				req.Params[k] = ""
				continue
			}
			req.Params[k] = v
		}
	}

	return req
}
