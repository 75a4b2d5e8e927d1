package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	marketDataScript = "fetchmarketdata.py"
	newsScript       = "fetch_news.py"
)

// Fetcher runs the Python fetcher scripts as subprocesses.
//
// A process-wide weighted semaphore caps how many fetcher processes run at
// once, no matter how many agent turns are in flight. Each run gets its own
// process group so a deadline kills the whole script tree, not just the
// parent python process.
type Fetcher struct {
	pythonBin  string
	scriptsDir string
	timeout    time.Duration
	gate       *semaphore.Weighted
	log        zerolog.Logger
}

// FetcherConfig holds subprocess runner configuration
type FetcherConfig struct {
	PythonBin     string
	ScriptsDir    string
	Timeout       time.Duration
	MaxConcurrent int64
}

// NewFetcher creates a new subprocess fetcher
func NewFetcher(cfg FetcherConfig, log zerolog.Logger) *Fetcher {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Fetcher{
		pythonBin:  cfg.PythonBin,
		scriptsDir: cfg.ScriptsDir,
		timeout:    cfg.Timeout,
		gate:       semaphore.NewWeighted(cfg.MaxConcurrent),
		log:        log.With().Str("component", "marketdata_fetcher").Logger(),
	}
}

// Quote fetches the latest quote for a symbol
func (f *Fetcher) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	out, err := f.run(ctx, marketDataScript, "quote", "--symbol", symbol)
	if err != nil {
		return nil, err
	}

	var quote Quote
	if err := json.Unmarshal(out, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote output: %w", err)
	}
	if !quote.OK {
		return nil, fmt.Errorf("quote fetch failed: %s", quote.Error)
	}
	return &quote, nil
}

// Candles fetches OHLCV bars for a validated query
func (f *Fetcher) Candles(ctx context.Context, query CandleQuery) (*CandleSeries, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	args := []string{
		"candles",
		"--symbol", query.Symbol,
		"--tf", query.Timeframe,
		"--range", query.Range,
		"--limit", strconv.Itoa(query.Limit),
	}
	if query.To > 0 {
		args = append(args, "--to", strconv.FormatInt(query.To, 10))
	}

	out, err := f.run(ctx, marketDataScript, args...)
	if err != nil {
		return nil, err
	}

	var series CandleSeries
	if err := json.Unmarshal(out, &series); err != nil {
		return nil, fmt.Errorf("failed to decode candles output: %w", err)
	}
	if !series.OK {
		return nil, fmt.Errorf("candle fetch failed: %s", series.Error)
	}
	return &series, nil
}

// NewsReport fetches the plain-text news and sentiment report for a symbol.
// The news script prints a human-readable report, not JSON; it is passed to
// the model verbatim.
func (f *Fetcher) NewsReport(ctx context.Context, symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", fmt.Errorf("symbol cannot be empty")
	}

	out, err := f.run(ctx, newsScript, symbol)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// run executes one fetcher script under the concurrency gate and deadline.
func (f *Fetcher) run(ctx context.Context, script string, args ...string) ([]byte, error) {
	if err := f.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("subprocess gate: %w", err)
	}
	defer f.gate.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	scriptPath := filepath.Join(f.scriptsDir, script)
	cmdArgs := append([]string{scriptPath}, args...)

	cmd := exec.CommandContext(runCtx, f.pythonBin, cmdArgs...)
	// Own process group so cancellation kills python and any children it spawned
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			f.log.Warn().
				Str("script", script).
				Strs("args", args).
				Dur("elapsed", elapsed).
				Msg("Fetcher subprocess killed on timeout")
			return nil, fmt.Errorf("%s timed out after %s", script, f.timeout)
		}
		// The scripts print {"ok":false,"error":...} to stdout and exit 1;
		// prefer that message over a bare exit status.
		var envelope struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(stdout.Bytes(), &envelope); jsonErr == nil && envelope.Error != "" {
			return nil, fmt.Errorf("%s: %s", script, envelope.Error)
		}
		f.log.Error().Err(err).
			Str("script", script).
			Str("stderr", truncate(stderr.String(), 500)).
			Msg("Fetcher subprocess failed")
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", script, err, truncate(stderr.String(), 200))
	}

	f.log.Debug().
		Str("script", script).
		Strs("args", args).
		Dur("elapsed", elapsed).
		Msg("Fetcher subprocess completed")

	return stdout.Bytes(), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
