package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hitoshi/customervoice/internal/config"
	"github.com/hitoshi/customervoice/internal/digest"
	"github.com/hitoshi/customervoice/internal/ingest"
	"github.com/hitoshi/customervoice/internal/insights"
	"github.com/hitoshi/customervoice/internal/model"
)

func newFlagSet(cmd Command, s streams) *flag.FlagSet {
	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)
	fs.SetOutput(s.log)
	return fs
}

// runLogin はログインしてトークンを状態ファイルに保存する。
// パスワードが -password で渡されない場合は標準入力の1行目を使う。
func runLogin(ctx context.Context, cfg *config.Config, log *slog.Logger, s streams, args []string) error {
	fs := newFlagSet(CommandLogin, s)
	email := fs.String("email", "", "account e-mail address")
	password := fs.String("password", "", "account password (read from stdin when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("login: -email is required")
	}
	if *password == "" {
		line, err := readLine(s.in)
		if err != nil {
			return fmt.Errorf("login: read password: %w", err)
		}
		*password = line
	}

	st, err := openCLIState(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	res := st.session.Login(ctx, model.LoginRequest{Email: strings.TrimSpace(*email), Password: *password})
	if !res.Success {
		return fmt.Errorf("login failed: %s", res.Message)
	}
	fmt.Fprintf(s.out, "Logged in as %s <%s>\n", res.User.Name(), res.User.Email)
	return nil
}

func readLine(r io.Reader) (string, error) {
	if r == nil {
		return "", io.EOF
	}
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}

// runLogout は保存済みトークンを削除する。
func runLogout(ctx context.Context, cfg *config.Config, log *slog.Logger, s streams) error {
	st, err := openCLIState(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	st.session.Logout(ctx)
	fmt.Fprintln(s.out, "Logged out.")
	return nil
}

// runWhoami は保存済みトークンを検証してユーザーを表示する。
func runWhoami(ctx context.Context, cfg *config.Config, log *slog.Logger, s streams) error {
	st, err := openCLIState(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.requireLogin(ctx); err != nil {
		return err
	}
	u := st.session.User()
	fmt.Fprintf(s.out, "%s <%s>\n", u.Name(), u.Email)
	if u.Role != "" {
		fmt.Fprintf(s.out, "role: %s\n", u.Role)
	}
	return nil
}

// runInsights はインサイトを取得して集計値を表示する。
func runInsights(ctx context.Context, cfg *config.Config, log *slog.Logger, s streams, args []string) error {
	fs := newFlagSet(CommandInsights, s)
	var f model.InsightsFilter
	fs.IntVar(&f.Page, "page", 0, "page number")
	fs.IntVar(&f.PageSize, "page-size", insights.DefaultPageSize, "reviews per page (max 100)")
	fs.StringVar(&f.StartDate, "start", "", "start date (YYYY-MM-DD)")
	fs.StringVar(&f.EndDate, "end", "", "end date (YYYY-MM-DD)")
	fs.StringVar(&f.SourceID, "source", "", "source id")
	fs.StringVar(&f.Sentiment, "sentiment", "", "Positive, Neutral or Negative")
	asJSON := fs.Bool("json", false, "print the snapshot as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openCLIState(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.requireLogin(ctx); err != nil {
		return err
	}

	snap, err := insights.NewLoader(st.api).Load(ctx, f)
	if err != nil {
		return fmt.Errorf("%s: %w", insights.ErrorMessage(err), err)
	}
	if *asJSON {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return writeInsights(s.out, snap)
}

func writeInsights(w io.Writer, snap *insights.Snapshot) error {
	sum := snap.Summary
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total reviews\t%s\n", insights.FormatNumber(sum.TotalReviews))
	if sum.SentimentAvailable {
		fmt.Fprintf(tw, "Positive share\t%s\n", insights.FormatPercent(sum.PositiveShare))
	} else {
		fmt.Fprintf(tw, "Positive share\tn/a\n")
	}
	fmt.Fprintf(tw, "Negative reviews\t%s\n", insights.FormatNumber(sum.NegativeCount))
	fmt.Fprintf(tw, "Sources\t%d\n", sum.SourceCount)
	if sum.TopTopic != nil {
		fmt.Fprintf(tw, "Top topic\t%s\n", sum.TopTopic.TopicLabel)
	}
	if sum.TopSource != nil {
		fmt.Fprintf(tw, "Top source\t%s\n", sum.TopSource.SourceName)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	cards := insights.RecentReviews(snap.Response)
	if len(cards) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRecent reviews")
	for _, c := range cards {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "- [%s] %s: %s\n", c.Tone, title, c.Excerpt)
	}
	return nil
}

// runDigest はダイジェストを生成して表示する。-send で宛先へ配信する。
// -save-token / -clear-token はダイジェスト用トークンの保存値だけを操作する。
func runDigest(ctx context.Context, cfg *config.Config, log *slog.Logger, s streams, args []string) error {
	fs := newFlagSet(CommandDigest, s)
	frequency := fs.String("frequency", cfg.DigestFrequency, "weekly or monthly")
	asHTML := fs.Bool("html", false, "render as HTML")
	send := fs.Bool("send", false, "deliver to DIGEST_RECIPIENTS instead of printing")
	saveToken := fs.String("save-token", "", "store a digest token in the state file")
	clearToken := fs.Bool("clear-token", false, "remove the stored digest token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	freq, err := digest.ParseFrequency(*frequency)
	if err != nil {
		return err
	}

	st, err := openCLIState(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case *saveToken != "":
		if err := st.tokens.Save(ctx, *saveToken); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Digest token saved.")
		return nil
	case *clearToken:
		st.tokens.Clear(ctx)
		if _, source := st.tokens.Resolve(ctx); source == "config" {
			fmt.Fprintln(s.out, "Stored digest token removed; DIGEST_TOKEN is still set.")
			return nil
		}
		fmt.Fprintln(s.out, "Stored digest token removed.")
		return nil
	}

	d, err := st.api.RunDigest(ctx, freq.Request(time.Now()))
	if err != nil {
		return err
	}

	if *send {
		msg, err := digest.BuildMessage(d, freq, cfg.DigestRecipients)
		if err != nil {
			return err
		}
		mailer, err := newMailer(cfg, log)
		if err != nil {
			return err
		}
		if err := mailer.Send(ctx, msg); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Sent %q to %d recipient(s).\n", msg.Subject, len(msg.To))
		return nil
	}

	if *asHTML {
		return digest.RenderHTML(s.out, d)
	}
	fmt.Fprintln(s.out, digest.Subject(d, freq))
	fmt.Fprintln(s.out)
	return digest.RenderText(s.out, d)
}

// newMailer はRESEND_API_KEYがあればResend、なければログ出力のMailerを返す。
func newMailer(cfg *config.Config, log *slog.Logger) (digest.Mailer, error) {
	if cfg.ResendAPIKey == "" {
		log.Warn("RESEND_API_KEYが未設定のため、ダイジェストはログに出力されます")
		return digest.NewLogMailer(log), nil
	}
	mailer, err := digest.NewResendMailer(cfg.ResendAPIKey, cfg.DigestEmailFrom)
	if err != nil {
		return nil, err
	}
	return mailer, nil
}

// runSchedule はダイジェストの定期配信ジョブを起動する。-once で1回だけ実行する。
func runSchedule(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet(string(CommandSchedule), flag.ContinueOnError)
	once := fs.Bool("once", false, "run a single delivery and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(cfg.DigestRecipients) == 0 {
		return fmt.Errorf("schedule: %w (set DIGEST_RECIPIENTS)", digest.ErrNoRecipients)
	}

	st, err := openCLIState(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	mailer, err := newMailer(cfg, log)
	if err != nil {
		return err
	}
	scheduler := digest.NewScheduler(st.api, mailer, log, digest.SchedulerConfig{
		Interval:   cfg.DigestInterval,
		Frequency:  digest.NormalizeFrequency(cfg.DigestFrequency),
		Recipients: cfg.DigestRecipients,
	})
	if *once {
		return scheduler.RunOnce(ctx)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	scheduler.Start(ctx)
	return nil
}

// runIngest はレビューを取り込む。-sample があればサンプルファイル、
// なければソース定義ファイルのフィードが対象。
func runIngest(ctx context.Context, cfg *config.Config, log *slog.Logger, s streams, args []string) error {
	fs := newFlagSet(CommandIngest, s)
	samplePath := fs.String("sample", "", "SAMPLE_DATA JSON file")
	sourcesPath := fs.String("sources", cfg.SourcesFile, "sources YAML file")
	only := fs.String("source", "", "import only this source id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openCLIState(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.requireLogin(ctx); err != nil {
		return err
	}

	if *samplePath != "" {
		return ingestSample(ctx, st, s.out, *samplePath)
	}

	sources, err := ingest.LoadSources(*sourcesPath)
	if err != nil {
		return err
	}
	if *only != "" {
		var picked []ingest.Source
		for _, src := range sources {
			if src.ID == *only {
				picked = append(picked, src)
			}
		}
		if len(picked) == 0 {
			return fmt.Errorf("ingest: unknown source %q", *only)
		}
		sources = picked
	}

	importer := ingest.NewImporter(st.api, ingest.ImporterOptions{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		Logger:      log,
	})
	results, err := importer.ImportAll(ctx, sources)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(s.out, "%s: failed: %v\n", r.Source.Name, r.Err)
			continue
		}
		fmt.Fprintf(s.out, "%s: ingested %d, duplicates %d\n", r.Source.Name, r.Response.IngestedCount, r.Response.DuplicateCount)
	}
	return err
}

func ingestSample(ctx context.Context, st *cliState, w io.Writer, path string) error {
	sample, err := ingest.LoadSample(path)
	if err != nil {
		return err
	}
	payloads := ingest.BuildIngestPayloads(sample)
	if len(payloads) == 0 {
		return fmt.Errorf("ingest: %s contains no reviews", path)
	}
	for _, p := range payloads {
		resp, err := st.api.Ingest(ctx, p)
		if err != nil {
			return fmt.Errorf("source %s: %w", p.SourceID, err)
		}
		fmt.Fprintf(w, "%s: ingested %d, duplicates %d\n", p.SourceID, resp.IngestedCount, resp.DuplicateCount)
	}
	return nil
}
