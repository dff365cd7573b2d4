package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig controls cross-origin request handling.
type CORSConfig struct {
	// AllowOrigins lists origins permitted to call the API. Empty, or a
	// single "*", permits every origin.
	AllowOrigins []string
	// AllowMethods lists permitted methods. Empty defaults to the verbs the
	// API actually serves.
	AllowMethods []string
	// AllowHeaders lists permitted request headers. Empty echoes whatever
	// the preflight asked for.
	AllowHeaders []string
	// ExposeHeaders lists response headers scripts may read.
	ExposeHeaders []string
	// AllowCredentials permits cookies and auth headers. Incompatible with
	// the wildcard origin; the middleware echoes the matched origin instead.
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header.
	MaxAge int
}

// CORS handles preflight requests and decorates responses with the
// cross-origin headers the config permits. Disallowed origins get a plain
// response with no CORS headers; the browser enforces the block.
func CORS(cfg CORSConfig) Middleware {
	origins := newOriginSet(cfg.AllowOrigins, cfg.AllowCredentials)

	methods := strings.Join(cfg.AllowMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PATCH, DELETE, OPTIONS"
	}
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Same-origin or non-browser client.
				if !origins.wildcard {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allow := origins.match(origin)

			if isPreflight(r) {
				// Vary must cover every header the preflight answer depends
				// on, or a shared cache can serve it to the wrong client.
				w.Header().Add("Vary", "Origin")
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")

				if allow != "" {
					w.Header().Set("Access-Control-Allow-Origin", allow)
					w.Header().Set("Access-Control-Allow-Methods", methods)
					switch {
					case headers != "":
						w.Header().Set("Access-Control-Allow-Headers", headers)
					default:
						if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
							w.Header().Set("Access-Control-Allow-Headers", req)
						}
					}
					if cfg.AllowCredentials {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
					if cfg.MaxAge > 0 {
						w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if !origins.wildcard {
				w.Header().Add("Vary", "Origin")
			}
			if allow != "" {
				w.Header().Set("Access-Control-Allow-Origin", allow)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if expose != "" {
					w.Header().Set("Access-Control-Expose-Headers", expose)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// originSet matches request origins case-insensitively while echoing the
// configured spelling back to the client.
type originSet struct {
	wildcard bool
	byLower  map[string]string
}

func newOriginSet(allowed []string, credentials bool) originSet {
	set := originSet{
		wildcard: len(allowed) == 0,
		byLower:  make(map[string]string, len(allowed)),
	}
	for _, o := range allowed {
		if o == "*" {
			set.wildcard = true
			continue
		}
		set.byLower[strings.ToLower(o)] = o
	}
	// The wildcard origin is invalid with credentials; echo the caller's
	// origin instead.
	if credentials {
		set.wildcard = false
	}
	return set
}

func (s originSet) match(origin string) string {
	if s.wildcard {
		return "*"
	}
	if len(s.byLower) == 0 {
		// Credentials knocked out the wildcard but no explicit list was
		// configured; reflect the caller.
		return origin
	}
	return s.byLower[strings.ToLower(origin)]
}
