package receiver

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthConfig holds intake authentication. A bearer token takes precedence
// over basic credentials; with neither set every request is accepted.
type AuthConfig struct {
	BearerToken       string
	BasicAuthUsername string
	BasicAuthPassword string
}

// Enabled reports whether requests must authenticate.
func (c AuthConfig) Enabled() bool {
	return c.BearerToken != "" || (c.BasicAuthUsername != "" && c.BasicAuthPassword != "")
}

var (
	errMissingAuth = errors.New("missing authorization header")
	errBadAuth     = errors.New("invalid credentials")
)

// check validates an Authorization header value.
func (c AuthConfig) check(header string) error {
	if !c.Enabled() {
		return nil
	}
	if header == "" {
		return errMissingAuth
	}
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(c.BasicAuthUsername+":"+c.BasicAuthPassword))
	if c.BearerToken != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return errBadAuth
		}
		header, expected = token, c.BearerToken
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
		return errBadAuth
	}
	return nil
}

func authMiddleware(cfg AuthConfig, next http.Handler) http.Handler {
	if !cfg.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.check(r.Header.Get("Authorization")); err != nil {
			receiverErrorsTotal.WithLabelValues("auth").Inc()
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authInterceptor(cfg AuthConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		header := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		if err := cfg.check(header); err != nil {
			receiverErrorsTotal.WithLabelValues("auth").Inc()
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}
