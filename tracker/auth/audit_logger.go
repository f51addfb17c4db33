package auth

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"swiftdb/tracker/schema"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// AuditLogger writes one JSON line per authenticated request: who called,
// from where, what they called, and the role flags the call was authorized
// with.
type AuditLogger struct {
	logger *slog.Logger
	db     *gorm.DB
}

func NewAuditLogger(stream io.Writer) AuditLogger {
	return AuditLogger{logger: slog.New(slog.NewJSONHandler(stream, nil))}
}

// withDb enables role resolution in audit entries. Set by the session
// provider, which owns the db handle.
func (log AuditLogger) withDb(db *gorm.DB) AuditLogger {
	log.db = db
	return log
}

func callerIp(r *http.Request) string {
	for _, header := range []string{"X-Real-Ip", "X-Forwarded-For"} {
		if ip := r.Header.Get(header); ip != "" {
			return ip
		}
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// routeParams flattens the chi url params and the query string into one
// attribute list.
func routeParams(r *http.Request) []interface{} {
	params := make([]interface{}, 0)

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key != "*" {
				params = append(params, slog.String(key, rctx.URLParams.Values[i]))
			}
		}
	}
	for key, values := range r.URL.Query() {
		params = append(params, slog.String(key, strings.Join(values, ";")))
	}
	return params
}

func (log *AuditLogger) roleAttrs(username string) []interface{} {
	if log.db == nil {
		return nil
	}

	roles, err := UserRoles(username, log.db)
	if err != nil {
		return []interface{}{slog.String("roles_error", err.Error())}
	}

	return []interface{}{
		slog.Bool("admin", roles.Admin),
		slog.Bool("reader", roles.Reader),
		slog.Int("work_package_grants", len(roles.WorkPackages)),
		slog.Int("partner_grants", len(schema.StripSentinels(roles.Partners))),
	}
}

func (log *AuditLogger) Middleware(next http.Handler) http.Handler {
	handler := func(w http.ResponseWriter, r *http.Request) {
		user, err := UserFromContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		log.logger.Info("",
			"username", user.Username,
			"user_id", user.Id,
			"client_ip", callerIp(r),
			"method", r.Method,
			"url", r.URL.Path,
			slog.Group("params", routeParams(r)...),
			slog.Group("roles", log.roleAttrs(user.Username)...),
		)

		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(handler)
}
