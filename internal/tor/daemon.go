package tor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout is how long Start waits for Tor to bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// Daemon manages an embedded Tor process.
// Starting it takes one to three minutes while Tor fetches directory
// information and builds its first circuits.
type Daemon struct {
	process        *tornago.TorProcess
	socksAddr      string
	startupTimeout time.Duration
	logger         *slog.Logger
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) DaemonOption {
	return func(d *Daemon) {
		if timeout > 0 {
			d.startupTimeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DaemonOption {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDaemon creates a daemon manager. Call Start to launch Tor.
func NewDaemon(opts ...DaemonOption) *Daemon {
	d := &Daemon{
		startupTimeout: DefaultStartupTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches Tor on OS-assigned ports and blocks until it has
// bootstrapped or the startup timeout expires.
func (d *Daemon) Start(ctx context.Context) error {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(d.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	d.logger.Info("starting embedded Tor daemon", "timeout", d.startupTimeout)
	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = process.Stop() //nolint:errcheck // the start was abandoned
		return err
	}

	d.process = process
	d.socksAddr = process.SocksAddr()
	d.logger.Info("embedded Tor daemon ready", "socks", d.socksAddr)
	return nil
}

// Stop shuts the daemon down. It is safe to call on a daemon that never
// started and to call more than once.
func (d *Daemon) Stop() error {
	if d.process == nil {
		return nil
	}
	err := d.process.Stop()
	d.process = nil
	d.socksAddr = ""
	return err
}

// IsRunning reports whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	return d.process != nil
}

// ProxyURL returns the socks5h URL of the daemon. Host names are
// resolved by Tor, which onion addresses require.
func (d *Daemon) ProxyURL() (string, error) {
	if !d.IsRunning() {
		return "", ErrNotRunning
	}
	return "socks5h://" + d.socksAddr, nil
}
