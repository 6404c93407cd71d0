package provider

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/singleflight"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/internal/gwerrors"
)

// AuthMode selects how a target's credentials are injected into an
// outbound request, per the specification's three supported shapes.
type AuthMode string

const (
	// AuthModeAPIKey sends a static bearer token carried verbatim in the target's AuthRef.
	AuthModeAPIKey AuthMode = "apikey"
	// AuthModeOAuthFile reads a bearer token from a token file, refreshed out of band.
	AuthModeOAuthFile AuthMode = "oauth-file"
	// AuthModeProjectBearer is Cloud Code Assist/Antigravity's project-id + bearer shape.
	AuthModeProjectBearer AuthMode = "project-bearer"
)

// AuthSpec is the parsed form of a router.Target.AuthRef, always shaped
// "<mode>:<rest>", with project-bearer carrying an extra colon-separated
// segment: "project-bearer:<projectId>:<tokenFilePath>".
type AuthSpec struct {
	Mode      AuthMode
	Key       string
	ProjectID string
	TokenPath string
}

// ParseAuthRef decodes a target's AuthRef string into an AuthSpec.
func ParseAuthRef(ref string) (AuthSpec, error) {
	parts := strings.SplitN(ref, ":", 3)
	if len(parts) < 2 {
		return AuthSpec{}, errors.Errorf("malformed auth ref %q", ref)
	}
	switch AuthMode(parts[0]) {
	case AuthModeAPIKey:
		return AuthSpec{Mode: AuthModeAPIKey, Key: parts[1]}, nil
	case AuthModeOAuthFile:
		return AuthSpec{Mode: AuthModeOAuthFile, TokenPath: resolveTokenPath(parts[1])}, nil
	case AuthModeProjectBearer:
		if len(parts) != 3 {
			return AuthSpec{}, errors.Errorf("project-bearer auth ref needs <projectId>:<path>, got %q", ref)
		}
		return AuthSpec{Mode: AuthModeProjectBearer, ProjectID: parts[1], TokenPath: resolveTokenPath(parts[2])}, nil
	default:
		return AuthSpec{}, errors.Errorf("unknown auth mode %q", parts[0])
	}
}

func resolveTokenPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return strings.TrimRight(config.ProviderAuthDir, "/") + "/" + p
}

type tokenFile struct {
	AccessToken string `json:"access_token"`
}

type loadedToken struct {
	token     string
	expiresAt time.Time
}

// tokenReads coalesces concurrent reads of the same token file: under a
// burst of requests against one OAuth target, only one goroutine touches
// the filesystem per in-flight read.
var tokenReads singleflight.Group

// loadBearerToken reads the token file and, when its contents parse as a
// JWT, decodes (without verifying signature) its exp claim so callers can
// detect an already-expired token before spending a round trip on it. A
// plain opaque token file is returned with a zero expiresAt.
func loadBearerToken(path string) (string, time.Time, error) {
	v, err, _ := tokenReads.Do(path, func() (any, error) {
		token, expiresAt, err := readTokenFile(path)
		if err != nil {
			return nil, err
		}
		return loadedToken{token: token, expiresAt: expiresAt}, nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	loaded := v.(loadedToken)
	return loaded.token, loaded.expiresAt, nil
}

func readTokenFile(path string) (token string, expiresAt time.Time, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "read oauth token file")
	}

	var tf tokenFile
	if err := json.Unmarshal(raw, &tf); err == nil && tf.AccessToken != "" {
		token = tf.AccessToken
	} else {
		token = strings.TrimSpace(string(raw))
	}

	claims := jwt.MapClaims{}
	if _, _, parseErr := jwt.NewParser().ParseUnverified(token, claims); parseErr == nil {
		if exp, ok := claims["exp"].(float64); ok {
			expiresAt = time.Unix(int64(exp), 0)
		}
	}

	return token, expiresAt, nil
}

// Inject sets the outbound request's auth header and, for project-bearer
// targets, stamps the JSON payload's top-level "project" field with the
// resolved project id (the codec that built the payload does not know
// which credential file/project pairing the target was configured with).
func (s AuthSpec) Inject(req *http.Request, payload []byte) ([]byte, error) {
	switch s.Mode {
	case AuthModeAPIKey:
		req.Header.Set("Authorization", "Bearer "+s.Key)
		return payload, nil

	case AuthModeOAuthFile:
		token, expiresAt, err := loadBearerToken(s.TokenPath)
		if err != nil {
			return nil, gwerrors.New(gwerrors.UpstreamAuth, "failed to read oauth token file", err)
		}
		if !expiresAt.IsZero() && !time.Now().Before(expiresAt) {
			return nil, gwerrors.New(gwerrors.UpstreamAuth, "oauth token expired", nil).WithCode("token_expired")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return payload, nil

	case AuthModeProjectBearer:
		token, expiresAt, err := loadBearerToken(s.TokenPath)
		if err != nil {
			return nil, gwerrors.New(gwerrors.UpstreamAuth, "failed to read oauth token file", err)
		}
		if !expiresAt.IsZero() && !time.Now().Before(expiresAt) {
			return nil, gwerrors.New(gwerrors.UpstreamAuth, "oauth token expired", nil).WithCode("token_expired")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		out, err := sjson.SetBytes(payload, "project", s.ProjectID)
		if err != nil {
			return nil, gwerrors.New(gwerrors.InternalConversionError, "failed to stamp project id", err)
		}
		return out, nil

	default:
		return nil, gwerrors.New(gwerrors.InternalConversionError, "unknown auth mode", nil)
	}
}
