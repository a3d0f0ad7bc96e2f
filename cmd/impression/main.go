// Command impression runs the impression pipeline over JSON lines and
// answers profile queries against the configured store.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/core"
	"github.com/oceanbase/impression-go/pkg/storage"
)

// app holds the global flags and the injectable streams of one invocation.
type app struct {
	configPath string
	envFile    string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	root := newRootCmd(&app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "impression",
		Short:        "impression - user impression and affection tracking",
		SilenceUsage: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "JSON or YAML config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", ".env file (default: search upward for .env)")

	root.AddCommand(
		newProcessCmd(a),
		newProfileCmd(a),
		newAffectionCmd(a),
		newStateCmd(a),
	)
	return root
}

func (a *app) loadConfig() (*core.Config, error) {
	switch {
	case a.configPath != "":
		return core.LoadConfigFromFile(a.configPath)
	case a.envFile != "":
		return core.LoadConfigFromEnvFile(a.envFile)
	default:
		return core.LoadConfigFromEnv()
	}
}

// session is an open client with its logger and optional metrics.
type session struct {
	client  *core.Client
	logger  *zap.Logger
	metrics *core.Metrics
}

func (s *session) close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("close failed", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func (a *app) open(withMetrics bool) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := core.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	opts := []core.Option{core.WithLogger(logger)}
	var metrics *core.Metrics
	if withMetrics || cfg.Metrics.Enabled {
		metrics = core.NewMetrics()
		opts = append(opts, core.WithMetrics(metrics))
	}

	client, err := core.NewClient(cfg, opts...)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{client: client, logger: logger, metrics: metrics}, nil
}

func newProcessCmd(a *app) *cobra.Command {
	var (
		file        string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process JSON line messages from stdin or a file",
		Long: "Each line is an object such as " +
			`{"user_id":"u1","message_id":"m1","text":"...","context":"..."}` +
			" or with a \"segments\" array instead of \"text\".",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			in := cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			s, err := a.open(metricsAddr != "")
			if err != nil {
				return err
			}
			defer s.close()

			if addr := metricsAddr; addr != "" || s.client.Config().Metrics.Enabled {
				if addr == "" {
					addr = s.client.Config().Metrics.Addr
				}
				srv := serveMetrics(addr, s.metrics, s.logger)
				defer shutdown(srv)
			}

			return processLines(ctx, s.client, in, cmd.OutOrStdout(), s.logger)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read messages from file instead of stdin")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	return cmd
}

func processLines(ctx context.Context, client *core.Client, in io.Reader, out io.Writer, logger *zap.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		ev, err := core.DecodeEvent([]byte(raw))
		if err == nil {
			var result *core.ProcessResult
			result, err = client.ProcessEvent(ctx, ev)
			if err == nil {
				fmt.Fprintln(out, formatResult(result))
				continue
			}
		}
		logger.Warn("skipping line", zap.Int("line", line), zap.Error(err))
		fmt.Fprintf(out, "line %d: %v\n", line, err)
	}
	return scanner.Err()
}

func formatResult(r *core.ProcessResult) string {
	if r.Stage != core.StageDone {
		return fmt.Sprintf("%s %s [%s] %s", r.UserID, r.MessageID, r.Outcome(), r.Status)
	}
	return fmt.Sprintf("%s %s [%s] score=%.1f level=%s source=%s %s",
		r.UserID, r.MessageID, r.Outcome(),
		r.Evaluation.Score, r.Evaluation.Level, r.Evaluation.Source, r.Status)
}

func serveMetrics(addr string, metrics *core.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and edit user profiles",
	}

	get := &cobra.Command{
		Use:   "get <user_id>",
		Short: "Show a user's impression and affection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				view, err := s.client.GetProfile(cmd.Context(), args[0])
				if errors.Is(err, core.ErrProfileNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), core.FormatNotFound(args[0]))
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), core.FormatProfile(view))
				return nil
			})
		},
	}

	search := &cobra.Command{
		Use:   "search <user_id> <keyword>",
		Short: "Search a user's impression for a keyword",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				res, err := s.client.SearchProfile(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), core.FormatSearch(res))
				return nil
			})
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List profiles, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				profiles, err := s.client.ListProfiles(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, p := range profiles {
					fmt.Fprintf(out, "%s\t%.1f (%s)\t%d\t%s\n",
						p.UserID, p.AffectionScore, p.AffectionLevel, p.MessageCount, p.Summary())
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of profiles (0 for all)")

	dimension := &cobra.Command{
		Use:   "dimension <user_id> <dimension> [value]",
		Short: "Show or overwrite one impression dimension",
		Long:  "Dimensions: " + dimensionNames(),
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				out := cmd.OutOrStdout()
				if len(args) == 2 {
					value, err := s.client.GetDimension(cmd.Context(), args[0], args[1])
					if err != nil {
						return err
					}
					if value == "" {
						value = "暂无数据"
					}
					fmt.Fprintln(out, value)
					return nil
				}
				if _, err := s.client.SetDimension(cmd.Context(), args[0], args[1], args[2]); err != nil {
					return err
				}
				dim, _ := storage.ParseDimension(args[1])
				fmt.Fprintf(out, "用户 %s 的%s已更新\n", args[0], dim.DisplayName())
				return nil
			})
		},
	}

	cmd.AddCommand(get, search, list, dimension)
	return cmd
}

func newAffectionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "affection",
		Short: "Manage affection scores",
	}
	set := &cobra.Command{
		Use:   "set <user_id> <score>",
		Short: "Overwrite a user's affection score (clamped to 0-100)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid score %q: %w", args[1], err)
			}
			return a.withSession(func(s *session) error {
				profile, err := s.client.SetAffection(cmd.Context(), args[0], score)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "用户 %s 好感度已设置为 %.1f (%s)\n",
					profile.UserID, profile.AffectionScore, profile.AffectionLevel)
				return nil
			})
		},
	}
	cmd.AddCommand(set)
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state <user_id>",
		Short: "Show a user's message counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *session) error {
				state, err := s.client.GetState(cmd.Context(), args[0])
				if errors.Is(err, core.ErrStateNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "用户 %s 暂无消息记录\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "用户: %s\n", state.UserID)
				fmt.Fprintf(out, "最后消息: %s (%s)\n", state.LastMessageID, state.LastMessageTime.Local().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "总消息: %d\n", state.TotalMessages)
				fmt.Fprintf(out, "已处理: %d\n", state.ProcessedMessages)
				fmt.Fprintf(out, "印象更新: %d\n", state.ProfileUpdateCount)
				fmt.Fprintf(out, "好感度更新: %d\n", state.AffectionUpdateCount)
				return nil
			})
		},
	}
}

func (a *app) withSession(fn func(*session) error) error {
	s, err := a.open(false)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s)
}

func dimensionNames() string {
	names := make([]string, len(storage.Dimensions))
	for i, d := range storage.Dimensions {
		names[i] = fmt.Sprintf("%s (%s, %s)", d, d.Alias(), d.DisplayName())
	}
	return strings.Join(names, ", ")
}
