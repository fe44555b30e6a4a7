package zk

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"
)

// config holds every build-time configuration knob from spec.md §6.
// It follows the functional-options shape of the gozk-recipes session
// package's SessionOpts/SessionOpt pair, generalized with the extra
// knobs this spec calls for (TLS, detach, session resumption).
type config struct {
	sessionTimeout time.Duration
	dialTimeout    time.Duration
	auth           []Auth
	readOnly       bool
	detach         bool
	resumeID       int64
	resumePasswd   []byte
	tlsConfig      *tls.Config
	logger         *zap.Logger
}

func defaultConfig() config {
	return config{
		sessionTimeout: 6 * time.Second,
		logger:         zap.NewNop(),
	}
}

// Option configures a Client at Connect time.
type Option func(*config)

// WithSessionTimeout sets the proposed session timeout; the server may
// reduce it (spec.md §6 "session_timeout").
func WithSessionTimeout(d time.Duration) Option {
	return func(c *config) { c.sessionTimeout = d }
}

// WithDialTimeout bounds a single connect attempt; spec.md §5 derives a
// default of sessionTimeout / number of endpoints when unset.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithAuth adds a (scheme, credential) pair applied on every connect
// (spec.md §6 "auth").
func WithAuth(scheme string, cred []byte) Option {
	return func(c *config) { c.auth = append(c.auth, Auth{Scheme: scheme, Cred: cred}) }
}

// WithReadOnly permits read-only connections (spec.md §6 "readonly").
func WithReadOnly(ro bool) Option {
	return func(c *config) { c.readOnly = ro }
}

// WithDetach makes a dropped last Client handle abandon the session
// locally instead of sending CloseSession (spec.md §6 "detach", §4.4
// "Close").
func WithDetach(detach bool) Option {
	return func(c *config) { c.detach = detach }
}

// WithSession resumes an existing (id, password) pair instead of
// establishing a fresh session (spec.md §6 "session").
func WithSession(sessionID int64, passwd []byte) Option {
	return func(c *config) { c.resumeID = sessionID; c.resumePasswd = passwd }
}

// WithTLSConfig enables TLS on the transport (spec.md §6 "tls").
func WithTLSConfig(t *tls.Config) Option {
	return func(c *config) { c.tlsConfig = t }
}

// WithLogger attaches a zap logger; the default is a no-op logger,
// matching the nullLogger fallback in the gozk-recipes session package.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}
