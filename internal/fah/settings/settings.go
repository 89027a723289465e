// Package settings reads the SysAP's public settings document.
//
// Every SysAP serves http://<host>/settings.json without authentication.
// It lists the local users with their XMPP JIDs and SCRAM parameters and
// a set of flags, among them the firmware version.
package settings

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// HandshakeVersion is the first firmware version that requires the
// encrypted handshake.
var HandshakeVersion = Version{2, 3, 0}

// DefaultTimeout bounds the settings request.
const DefaultTimeout = 10 * time.Second

// maxDocumentSize bounds the settings document.
const maxDocumentSize = 1 << 20

// Errors returned by this package.
var (
	// ErrUnreachable is returned when the settings document cannot be fetched.
	ErrUnreachable = errors.New("settings: sysap unreachable")

	// ErrInvalidDocument is returned when the document is not valid JSON.
	ErrInvalidDocument = errors.New("settings: invalid document")

	// ErrUserNotFound is returned when no user has the requested name.
	ErrUserNotFound = errors.New("settings: user not found")

	// ErrFlagNotFound is returned when a flag is absent.
	ErrFlagNotFound = errors.New("settings: flag not found")

	// ErrNoAuthMethod is returned when a user lacks the requested auth method.
	ErrNoAuthMethod = errors.New("settings: auth method not available")
)

// AuthMethod holds the SCRAM parameters of one mechanism.
type AuthMethod struct {
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"` // base64
}

// User is one entry of the users list.
type User struct {
	Name        string                `json:"name"`
	JID         string                `json:"jid"`
	AuthMethods map[string]AuthMethod `json:"authmethods"`
}

// Document is the parsed settings.json.
type Document struct {
	Users []User         `json:"users"`
	Flags map[string]any `json:"flags"`
}

// Fetch downloads http://<host>/settings.json.
//
// Parameters:
//   - ctx: Context for cancellation; DefaultTimeout applies when it has no deadline
//   - client: HTTP client to use, http.DefaultClient when nil
//   - host: SysAP host name or address
//
// Returns:
//   - *Document: Parsed settings
//   - error: ErrUnreachable or ErrInvalidDocument
func Fetch(ctx context.Context, client *http.Client, host string) (*Document, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	url := "http://" + host + "/settings.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUnreachable, url, resp.Status)
	}
	return Parse(io.LimitReader(resp.Body, maxDocumentSize))
}

// Load reads a settings document from a file.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a settings document.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return &doc, nil
}

func (d *Document) user(name string) (*User, error) {
	for i := range d.Users {
		if d.Users[i].Name == name {
			return &d.Users[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUserNotFound, name)
}

// JID returns the XMPP JID of the named user.
func (d *Document) JID(username string) (string, error) {
	u, err := d.user(username)
	if err != nil {
		return "", err
	}
	return u.JID, nil
}

// Flag returns a flag rendered as a string.
func (d *Document) Flag(name string) (string, error) {
	v, ok := d.Flags[name]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %q", ErrFlagNotFound, name)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return fmt.Sprint(t), nil
	}
}

// ScramSettings returns the iteration count and decoded salt of a user's
// auth method, e.g. "SCRAM-SHA-256".
func (d *Document) ScramSettings(username, mechanism string) (int, []byte, error) {
	u, err := d.user(username)
	if err != nil {
		return 0, nil, err
	}
	m, ok := u.AuthMethods[mechanism]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s for %q", ErrNoAuthMethod, mechanism, username)
	}
	salt, err := base64.StdEncoding.DecodeString(m.Salt)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: salt: %w", ErrInvalidDocument, err)
	}
	return m.Iterations, salt, nil
}

// Version returns the firmware version from the "version" flag.
func (d *Document) Version() (Version, error) {
	s, err := d.Flag("version")
	if err != nil {
		return Version{}, err
	}
	return ParseVersion(s)
}

// RequiresHandshake reports whether the firmware expects the encrypted
// handshake.
func (d *Document) RequiresHandshake() (bool, error) {
	v, err := d.Version()
	if err != nil {
		return false, err
	}
	return !v.Less(HandshakeVersion), nil
}

// Version is a dotted numeric firmware version.
type Version []int

// ParseVersion parses "2.6.0" style versions. Anything after the first
// character that is neither a digit nor a dot is ignored ("2.3.1-rc2").
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "v"))
	if i := strings.IndexFunc(s, func(r rune) bool { return r != '.' && (r < '0' || r > '9') }); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty version", ErrInvalidDocument)
	}
	parts := strings.Split(strings.TrimSuffix(s, "."), ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: version %q", ErrInvalidDocument, s)
		}
		v = append(v, n)
	}
	return v, nil
}

// Less reports whether v sorts before o. Missing components count as zero.
func (v Version) Less(o Version) bool {
	for i := 0; i < len(v) || i < len(o); i++ {
		var a, b int
		if i < len(v) {
			a = v[i]
		}
		if i < len(o) {
			b = o[i]
		}
		if a != b {
			return a < b
		}
	}
	return false
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
