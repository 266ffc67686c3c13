package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantomatic/quanto-client/pkg/config"
	"github.com/quantomatic/quanto-client/pkg/core"
	"github.com/quantomatic/quanto-client/pkg/core/client"
	"github.com/quantomatic/quanto-client/pkg/policy"
	"github.com/quantomatic/quanto-client/pkg/stores"
	"github.com/quantomatic/quanto-client/pkg/telemetry"
	"github.com/quantomatic/quanto-client/pkg/transports/ssh"
)

// stager moves graph files to where the core can read them.
type stager interface {
	Stage(ctx context.Context, localPath string) (string, error)
	Fetch(ctx context.Context, remotePath, localPath string) error
}

// session is one started core with everything wired around it.
type session struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	client   *client.Client
	core     *core.Core
	store    *stores.SQLiteStore
	record   *stores.Session
	stager   stager
	greeting string

	// ctx carries the session logger and span for every call.
	ctx  context.Context
	span trace.Span
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if a.corePath != "" {
		cfg.Core.Path = a.corePath
	}
	if a.timeout != 0 {
		cfg.Core.CallTimeout = a.timeout
	}
	if a.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if a.readOnly {
		cfg.Policy.ReadOnly = true
	}
	cfg.Policy.Paths = append(cfg.Policy.Paths, a.policies...)
	if a.remote != "" {
		remote, err := parseRemote(a.remote, cfg.Remote)
		if err != nil {
			return nil, err
		}
		cfg.Remote = remote
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseRemote reads user@host[:port]. Settings other than the address
// are kept from base when it is set.
func parseRemote(addr string, base *ssh.Config) (*ssh.Config, error) {
	user, hostPort, ok := strings.Cut(addr, "@")
	if !ok || user == "" || hostPort == "" {
		return nil, fmt.Errorf("invalid remote %q: want user@host[:port]", addr)
	}
	host, portStr, hasPort := strings.Cut(hostPort, ":")

	remote := ssh.DefaultConfig(host, user)
	if base != nil {
		copied := *base
		copied.Host = host
		copied.User = user
		remote = &copied
	}
	if hasPort {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid remote port %q: %w", portStr, err)
		}
		remote.Port = port
	}
	return remote, nil
}

// open starts the core and checks its greeting. The caller must Close
// the session.
func (a *app) open(ctx context.Context) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	s := &session{cfg: cfg, tel: tel, logger: tel.Logger.NewComponentLogger("cli")}

	launcher := a.launcher
	target := cfg.Core.Path
	if launcher == nil {
		launcher, err = cfg.Launcher()
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
	}
	if l, ok := launcher.(*ssh.Launcher); ok {
		s.stager = l.Client
		target = fmt.Sprintf("%s@%s:%s", cfg.Remote.User, cfg.Remote.Address(), cfg.Remote.CorePath)
	}

	var rec client.Recorder
	sessionID := uuid.NewString()
	if cfg.Transcript.Enabled {
		if err := s.openTranscript(ctx, target); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		sessionID = s.record.ID
	}

	ctx = telemetry.WithSessionContext(tel.WithContext(ctx), sessionID)
	tel.Logger = telemetry.FromContext(ctx)
	s.logger = tel.Logger.NewComponentLogger("cli")
	s.ctx, s.span = tel.Tracer.StartSessionSpan(ctx, sessionID)
	ctx = s.ctx
	if s.store != nil {
		rec = stores.NewRecorder(s.store, s.record.ID, tel.Logger)
	}

	clientCfg, err := cfg.ClientConfig(tel, rec)
	if err != nil {
		s.closeAux(ctx, nil)
		return nil, err
	}
	s.client, err = client.Start(ctx, launcher, clientCfg)
	if err != nil {
		s.closeAux(ctx, err)
		return nil, err
	}
	var conn core.Conn = s.client
	if cfg.Policy.Active() {
		guard, err := a.guard(ctx, cfg, s.client, s.logger.Zerolog())
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		conn = guard
	}
	s.core = core.New(conn, tel, core.WithClassifier(clientCfg.Classifier))

	s.greeting, err = s.core.Handshake(ctx)
	if err != nil {
		_ = s.Close(ctx)
		if stderr := client.StderrOf(s.client.Peer()); stderr != "" {
			return nil, fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr))
		}
		return nil, err
	}
	if s.store != nil {
		if err := s.store.SetGreeting(ctx, s.record.ID, s.greeting); err != nil {
			s.logger.WithError(err).Warn("failed to record greeting")
		}
	}
	s.logger.WithField("target", target).
		WithField("trace_id", telemetry.TraceID(ctx)).
		Debug("core session ready")
	return s, nil
}

// policyEngine loads the configured policies over the built-ins.
func policyEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	paths, err := cfg.PolicyPaths()
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// guard wraps conn so that every command is checked against the policies.
func (a *app) guard(ctx context.Context, cfg *config.Config, conn core.Conn, logger zerolog.Logger) (*policy.Guard, error) {
	engine, err := policyEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	mode := policy.ModeReadWrite
	if cfg.Policy.ReadOnly {
		mode = policy.ModeReadOnly
	}
	source := a.source
	if source == "" {
		source = policy.SourceCLI
	}
	return policy.NewGuard(conn, engine, source, mode, logger), nil
}

func (s *session) openTranscript(ctx context.Context, target string) error {
	path, err := s.cfg.TranscriptPath()
	if err != nil {
		return err
	}
	store, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	record, err := store.StartSession(ctx, target)
	if err != nil {
		_ = store.Close()
		return err
	}
	s.store = store
	s.record = record
	return nil
}

// Close stops the core and finishes the transcript. A session that
// failed mid-run is recorded with the failure.
func (s *session) Close(ctx context.Context) error {
	var cause, err error
	if s.client != nil {
		cause = s.client.Err()
		err = s.client.Close()
	}
	s.closeAux(ctx, cause)
	return err
}

// closeAux ends the transcript and flushes telemetry.
func (s *session) closeAux(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	if s.store != nil {
		var exitCode *int
		if s.client != nil {
			if code, ok := s.client.Peer().ExitCode(); ok {
				exitCode = &code
			}
		}
		var errMsg *string
		if cause != nil {
			msg := cause.Error()
			errMsg = &msg
		}
		if err := s.store.EndSession(ctx, s.record.ID, exitCode, errMsg); err != nil {
			s.logger.WithError(err).Warn("failed to finish transcript")
		}
		_ = s.store.Close()
		s.store = nil
	}

	if s.span != nil {
		if cause != nil {
			telemetry.RecordError(s.span, cause)
		} else {
			telemetry.RecordSuccess(s.span)
		}
		s.span.End()
		s.span = nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("failed to flush telemetry")
	}
}

// withSession opens a session, runs fn and closes the session. fn gets
// the session context, so its calls are children of the session span.
func (a *app) withSession(ctx context.Context, fn func(context.Context, *session) error) error {
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	return fn(s.ctx, s)
}

// corePath turns a local graph path into one the core can read, staging
// it over SFTP for a remote core.
func (s *session) corePath(ctx context.Context, local string) (string, error) {
	if s.stager == nil {
		return local, nil
	}
	return s.stager.Stage(ctx, local)
}

// loadFiles loads local graph files into the core and returns the names
// it gave them, in order.
func (s *session) loadFiles(ctx context.Context, files []string) ([]string, error) {
	names := make([]string, 0, len(files))
	for _, f := range files {
		path, err := s.corePath(ctx, f)
		if err != nil {
			return nil, err
		}
		name, err := s.core.LoadGraph(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
