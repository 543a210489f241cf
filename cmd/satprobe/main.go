// satprobe runs YAML command/response test scripts against a socket service,
// a local program or a program started over SSH.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/acolita/satprobe/internal/adapters/realclock"
	"github.com/acolita/satprobe/internal/adapters/realfs"
	"github.com/acolita/satprobe/internal/config"
	"github.com/acolita/satprobe/internal/logging"
	"github.com/acolita/satprobe/internal/ports"
	"github.com/acolita/satprobe/internal/recording"
	"github.com/acolita/satprobe/internal/script"
	"github.com/acolita/satprobe/internal/security"
	"github.com/acolita/satprobe/internal/session"
	"github.com/acolita/satprobe/internal/target"
)

// Version information - set at build time.
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	configPath    string
	debug         bool
	watch         bool
	showVersion   bool
	storePassword bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	flags := pflag.NewFlagSet("satprobe", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath(), "Path to configuration file")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "Reload the config file between scripts when it changes")
	flags.BoolVar(&opts.showVersion, "version", false, "Show version information")
	flags.BoolVar(&opts.storePassword, "store-password", false, "Read the remote SSH password from stdin and save it in the system keyring")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: satprobe [flags] SCRIPT...\n\nScripts may be glob patterns; ** matches across directories.\n\nFlags:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "satprobe version %s\n", Version)
		fmt.Fprintf(stdout, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
		return 0
	}

	cfg, err := loadConfig(opts.configPath, opts.debug)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	logging.SetupWithWriter(stderr, cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Sanitize)

	if opts.storePassword {
		if err := storePassword(cfg, stdin, stderr); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Password for %s@%s stored in keyring\n", cfg.Remote.User, cfg.Remote.Host)
		return 0
	}

	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	fsys := realfs.New()
	paths, err := expandScripts(flags.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	current := &configHolder{cfg: cfg}
	if opts.watch {
		w, err := config.NewWatcher(opts.configPath, func(newCfg *config.Config) {
			if opts.debug {
				newCfg.Logging.Level = "debug"
			}
			logging.SetLevel(newCfg.Logging.Level)
			current.set(newCfg)
		})
		if err != nil {
			slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		} else {
			defer w.Close()
			slog.Info("config hot-reload enabled", slog.String("path", opts.configPath))
		}
	}

	slog.Info("starting satprobe",
		slog.String("version", Version),
		slog.Int("scripts", len(paths)),
		slog.String("channel", cfg.Target.Channel),
		slog.String("launch", cfg.Target.Launch),
	)

	app := &app{fs: fsys, clock: realclock.New(), out: stdout}
	failed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		if err := app.runScript(ctx, current.get(), path); err != nil {
			failed++
			slog.Error("script failed", slog.String("script", path), slog.String("error", err.Error()))
		}
	}

	fmt.Fprintf(stdout, "\n%d script(s), %d passed, %d failed\n", len(paths), len(paths)-failed, failed)
	if failed > 0 || ctx.Err() != nil {
		return 1
	}
	return 0
}

func loadConfig(path string, debug bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configHolder hands the latest reloaded config to the next script.
type configHolder struct {
	mu  sync.Mutex
	cfg *config.Config
}

func (h *configHolder) get() *config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

func (h *configHolder) set(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// expandScripts resolves glob patterns. Patterns without glob syntax are
// kept as given so a missing script is reported when it is loaded.
func expandScripts(patterns []string) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			if !seen[pattern] {
				seen[pattern] = true
				paths = append(paths, pattern)
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no scripts match %q", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	return paths, nil
}

type app struct {
	fs    ports.FileSystem
	clock ports.Clock
	out   io.Writer
}

func (a *app) runScript(ctx context.Context, cfg *config.Config, path string) error {
	s, err := script.Load(a.fs, path)
	if err != nil {
		return err
	}

	guard, err := security.NewCommandGuard(cfg.Target.BlockedCommands, cfg.Target.AllowedCommands)
	if err != nil {
		return err
	}

	var keyring target.PasswordSource
	if cfg.Remote.UseKeyring {
		keyring = security.NewKeyringStore()
	}

	tgt, err := target.Open(ctx, cfg, target.Deps{FS: a.fs, Clock: a.clock, Keyring: keyring})
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer func() {
		if cerr := tgt.Close(); cerr != nil {
			slog.Warn("target teardown", slog.String("error", cerr.Error()))
		}
	}()

	runID := uuid.NewString()
	sessOpts := []session.Option{
		session.WithID(runID),
		session.WithClock(a.clock),
		session.WithUnit(cfg.Timing.Unit),
	}
	if cfg.Recording.Enabled {
		rec, err := recording.New(recording.Options{
			Dir:    cfg.Recording.Dir,
			RunID:  runID[:8],
			Title:  s.Name,
			Target: tgt.Kind().String(),
			FS:     a.fs,
			Clock:  a.clock,
		})
		if err != nil {
			return err
		}
		defer rec.Close()
		sessOpts = append(sessOpts, session.WithTranscript(rec))
		slog.Info("recording transcript", slog.String("file", rec.Path()))
	}

	sess := session.New(tgt.Channel(), sessOpts...)
	runner := script.NewRunner(sess,
		script.WithGuard(guard),
		script.WithFileSystem(a.fs),
		script.WithStorageDir(cfg.Storage.Dir),
	)

	report, runErr := runner.Run(ctx, s)
	printReport(a.out, report)

	if fetched, err := tgt.FetchArtifacts(); err != nil {
		slog.Warn("artifact fetch failed", slog.String("error", err.Error()))
	} else if len(fetched) > 0 {
		slog.Info("artifacts fetched", slog.Int("files", len(fetched)), slog.String("dir", cfg.Remote.Artifacts.Dir))
	}
	return runErr
}

func printReport(w io.Writer, r *script.Report) {
	if r == nil {
		return
	}
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", status, r.Script, r.Duration.Round(time.Millisecond))
	for _, st := range r.Steps {
		mark := "ok"
		if st.Err != nil {
			mark = "FAILED"
		}
		fmt.Fprintf(w, "  %2d. %-32s %-6s %s\n", st.Index, st.Name, mark, st.Duration.Round(time.Millisecond))
		if st.Err != nil {
			fmt.Fprintf(w, "      %v\n", st.Err)
		}
		if st.StoredPath != "" {
			fmt.Fprintf(w, "      saved replies: %s\n", st.StoredPath)
		}
	}
}

func storePassword(cfg *config.Config, stdin io.Reader, prompt io.Writer) error {
	if cfg.Remote.Host == "" || cfg.Remote.User == "" {
		return errors.New("remote.host and remote.user must be configured")
	}
	password, err := readPassword(stdin, prompt, fmt.Sprintf("Password for %s@%s: ", cfg.Remote.User, cfg.Remote.Host))
	if err != nil {
		return err
	}
	return security.NewKeyringStore().StorePassword(cfg.Remote.Host, cfg.Remote.User, password)
}

// readPassword reads one line, without echo when stdin is a terminal.
func readPassword(stdin io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if len(data) == 0 {
			return "", errors.New("empty password")
		}
		return string(data), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
