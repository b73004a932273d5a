package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"papertrail/internal/domain"
	"papertrail/internal/engine/auth"
	"papertrail/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// TrustUserHeader accepts X-Papertrail-User as an authenticated user
	// agent. Meant for local single-user setups; leave off anywhere the
	// header can be spoofed.
	TrustUserHeader bool
	Logger          *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (auth.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && !p.Agent.IsZero() {
		return p, nil
	}
	return auth.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	AgentType string   `json:"agent_type,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

func authenticateJWT(token string, secret string) (auth.Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.Principal{}, err
	}
	if !parsed.Valid {
		return auth.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Principal{}, errors.New("subject claim required")
	}
	agentType := domain.AgentType(claims.AgentType)
	if agentType == "" {
		agentType = domain.AgentUser
	}
	agent, err := domain.NewAgent(agentType, claims.Subject)
	if err != nil {
		return auth.Principal{}, err
	}
	scopes := claims.Scopes
	if len(scopes) == 0 {
		scopes = auth.DefaultUserScopes
	}
	return auth.Principal{Agent: agent, Scopes: scopes}, nil
}

func authenticateClientKey(ctx context.Context, r repo.Repo, key string) (auth.Principal, error) {
	if strings.TrimSpace(key) == "" {
		return auth.Principal{}, errors.New("api key required")
	}
	k, err := r.GetClientKeyByHash(ctx, repo.HashClientKey(key))
	if err != nil {
		return auth.Principal{}, err
	}
	agent, err := domain.NewAgent(domain.AgentClient, k.ClientID)
	if err != nil {
		return auth.Principal{}, err
	}
	agent.Name = k.Name
	return auth.Principal{Agent: agent, Scopes: k.Scopes}, nil
}

// SignToken mints an HS256 bearer token for the given agent. The serve
// command and the dev login endpoint both go through here.
func SignToken(secret string, agent domain.Agent, scopes []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agent.NativeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AgentType: string(agent.Type),
		Scopes:    scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	// health, dev login, the machine-readable spec and the reference
	// catalogs carry no submission data and stay open
	openPaths := map[string]bool{
		path.Join(basePath, "health"):              true,
		path.Join(basePath, "auth/dev/login"):      true,
		path.Join(basePath, "openapi.json"):        true,
		path.Join(basePath, "taxonomy/categories"): true,
		path.Join(basePath, "licenses"):            true,
		path.Join(basePath, "events/types"):        true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if openPaths[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			userHeader := strings.TrimSpace(req.Header.Get("X-Papertrail-User"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKey != "" {
				principal, err := authenticateClientKey(req.Context(), r, apiKey)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				// a client key plus a user header is a proxy submission:
				// the user acts, the client carries it and stays on the
				// record as proxy
				if userHeader != "" {
					user, err := domain.NewAgent(domain.AgentUser, userHeader)
					if err != nil {
						respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
						return
					}
					client := principal.Agent
					principal.Agent = user
					principal.Proxy = &client
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if userHeader != "" && cfg.TrustUserHeader {
				user, err := domain.NewAgent(domain.AgentUser, userHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				cfg.logger().Printf("auth: trusting X-Papertrail-User header (user=%s)", userHeader)
				principal := auth.Principal{Agent: user, Scopes: auth.DefaultUserScopes}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
