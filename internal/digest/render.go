package digest

import (
	"fmt"
	htmltemplate "html/template"
	"io"
	"maps"
	"math"
	"slices"
	"strings"
	"text/template"

	"github.com/hitoshi/customervoice/internal/insights"
	"github.com/hitoshi/customervoice/internal/model"
)

type metricView struct {
	Key   string
	Value string
}

type topicView struct {
	Label  string
	Change string
	Quote  string
}

type competitorView struct {
	Name      string
	Delta     string
	Highlight string
}

type snapshotView struct {
	Positive string
	Neutral  string
	Negative string
}

type digestView struct {
	Title       string
	Period      string
	Highlights  []string
	Metrics     []metricView
	Snapshot    *snapshotView
	Praise      []topicView
	Complaints  []topicView
	Competitors []competitorView
}

func newView(d *model.DigestResponse) digestView {
	v := digestView{
		Title:      "Customer Voice digest",
		Period:     d.TimeframeStart.UTC().Format("Jan 2, 2006") + " - " + d.TimeframeEnd.UTC().Format("Jan 2, 2006"),
		Highlights: d.Highlights,
	}
	for _, k := range slices.Sorted(maps.Keys(d.KeyMetrics)) {
		v.Metrics = append(v.Metrics, metricView{Key: humanizeKey(k), Value: formatMetric(d.KeyMetrics[k])})
	}
	if s := d.SentimentSnapshot; s != nil {
		v.Snapshot = &snapshotView{
			Positive: insights.FormatNumber(s.Positive),
			Neutral:  insights.FormatNumber(s.Neutral),
			Negative: insights.FormatNumber(s.Negative),
		}
	}
	praise, complaints := SplitTopics(d)
	v.Praise = topicViews(praise)
	v.Complaints = topicViews(complaints)
	for _, c := range d.CompetitorSummary {
		v.Competitors = append(v.Competitors, competitorView{
			Name:      c.Name,
			Delta:     fmt.Sprintf("%+.2f", c.SentimentDelta),
			Highlight: c.Highlight,
		})
	}
	return v
}

func topicViews(topics []model.TopicSpotlight) []topicView {
	out := make([]topicView, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicView{
			Label:  t.TopicLabel,
			Change: fmt.Sprintf("%+.1f%%", t.ChangeVsPrevious*100),
			Quote:  FirstQuote(t),
		})
	}
	return out
}

// humanizeKey は "total_reviews" を "Total reviews" に変換する。
func humanizeKey(k string) string {
	s := strings.ReplaceAll(k, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatMetric は指標値を表示用文字列にする。整数値は3桁区切り。
func formatMetric(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return insights.FormatNumber(int(x))
		}
		return fmt.Sprintf("%.2f", x)
	case int:
		return insights.FormatNumber(x)
	default:
		return fmt.Sprint(x)
	}
}

var textTmpl = template.Must(template.New("digest").Parse(`{{.Title}} ({{.Period}})

Highlights
{{range .Highlights}}- {{.}}
{{else}}- No highlights for this period.
{{end}}
Key metrics
{{range .Metrics}}- {{.Key}}: {{.Value}}
{{end}}{{with .Snapshot}}
Sentiment: Positive {{.Positive}} | Neutral {{.Neutral}} | Negative {{.Negative}}
{{end}}
Top praise
{{range .Praise}}- {{.Label}} ({{.Change}}){{if .Quote}} "{{.Quote}}"{{end}}
{{else}}- No praise topics yet.
{{end}}
Top complaints
{{range .Complaints}}- {{.Label}} ({{.Change}}){{if .Quote}} "{{.Quote}}"{{end}}
{{else}}- No complaints detected.
{{end}}{{if .Competitors}}
Competitors
{{range .Competitors}}- {{.Name}}: {{.Delta}}{{if .Highlight}} {{.Highlight}}{{end}}
{{end}}{{end}}`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("digest").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h1>{{.Title}}</h1>
<p>{{.Period}}</p>
<h2>Highlights</h2>
<ul>{{range .Highlights}}<li>{{.}}</li>{{else}}<li>No highlights for this period.</li>{{end}}</ul>
{{if .Metrics}}<h2>Key metrics</h2>
<table>{{range .Metrics}}<tr><td>{{.Key}}</td><td>{{.Value}}</td></tr>{{end}}</table>{{end}}
{{with .Snapshot}}<p>Positive {{.Positive}} | Neutral {{.Neutral}} | Negative {{.Negative}}</p>{{end}}
<h2>Top praise</h2>
<ul>{{range .Praise}}<li><strong>{{.Label}}</strong> {{.Change}}{{if .Quote}}<br><em>"{{.Quote}}"</em>{{end}}</li>{{else}}<li>No praise topics yet.</li>{{end}}</ul>
<h2>Top complaints</h2>
<ul>{{range .Complaints}}<li><strong>{{.Label}}</strong> {{.Change}}{{if .Quote}}<br><em>"{{.Quote}}"</em>{{end}}</li>{{else}}<li>No complaints detected.</li>{{end}}</ul>
{{if .Competitors}}<h2>Competitors</h2>
<ul>{{range .Competitors}}<li>{{.Name}}: {{.Delta}}{{if .Highlight}} {{.Highlight}}{{end}}</li>{{end}}</ul>{{end}}
</body></html>
`))

// RenderText はダイジェストをプレーンテキストで書き出す。
func RenderText(w io.Writer, d *model.DigestResponse) error {
	if err := textTmpl.Execute(w, newView(d)); err != nil {
		return fmt.Errorf("render digest text: %w", err)
	}
	return nil
}

// RenderHTML はダイジェストをメール本文用のHTMLで書き出す。値はすべてエスケープされる。
func RenderHTML(w io.Writer, d *model.DigestResponse) error {
	if err := htmlTmpl.Execute(w, newView(d)); err != nil {
		return fmt.Errorf("render digest html: %w", err)
	}
	return nil
}

// Subject はメールの件名を返す。
func Subject(d *model.DigestResponse, f Frequency) string {
	return fmt.Sprintf("Customer Voice %s digest: %s - %s",
		f,
		insights.FormatDateShort(d.TimeframeStart.UTC()),
		insights.FormatDateShort(d.TimeframeEnd.UTC()),
	)
}
