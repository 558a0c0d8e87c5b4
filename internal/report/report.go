package report

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"mltrack/internal/errors"
	"mltrack/internal/metrics"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// RunReport summarises one training run for humans
type RunReport struct {
	Title          string
	Experiment     string
	RunID          string
	Params         map[string]string
	Metrics        map[string]float64
	Classification *metrics.Report
	// Images are artifact-relative paths embedded below the tables
	Images []string
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Markdown renders the report as GitHub-flavoured markdown
func (r *RunReport) Markdown() []byte {
	var b bytes.Buffer
	title := r.Title
	if title == "" {
		title = "Run report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if r.Experiment != "" {
		fmt.Fprintf(&b, "- **Experiment:** %s\n", r.Experiment)
	}
	if r.RunID != "" {
		fmt.Fprintf(&b, "- **Run:** `%s`\n", r.RunID)
	}
	b.WriteString("\n")

	if len(r.Params) > 0 {
		b.WriteString("## Parameters\n\n| name | value |\n|---|---|\n")
		for _, k := range sortedKeys(r.Params) {
			fmt.Fprintf(&b, "| %s | %s |\n", cell(k), cell(r.Params[k]))
		}
		b.WriteString("\n")
	}

	if len(r.Metrics) > 0 {
		b.WriteString("## Metrics\n\n| name | value |\n|---|---:|\n")
		for _, k := range sortedKeys(r.Metrics) {
			fmt.Fprintf(&b, "| %s | %.4f |\n", cell(k), r.Metrics[k])
		}
		b.WriteString("\n")
	}

	if c := r.Classification; c != nil {
		b.WriteString("## Classification report\n\n")
		b.WriteString("| class | precision | recall | f1-score | support |\n|---|---:|---:|---:|---:|\n")
		for i, s := range c.Classes {
			fmt.Fprintf(&b, "| %s | %.2f | %.2f | %.2f | %d |\n", cell(c.Names[i]), s.Precision, s.Recall, s.F1, s.Support)
		}
		fmt.Fprintf(&b, "| accuracy | | | %.2f | %d |\n", c.Accuracy, c.Support)
		fmt.Fprintf(&b, "| macro avg | %.2f | %.2f | %.2f | %d |\n", c.MacroAvg.Precision, c.MacroAvg.Recall, c.MacroAvg.F1, c.Support)
		fmt.Fprintf(&b, "| weighted avg | %.2f | %.2f | %.2f | %d |\n\n", c.WeightedAvg.Precision, c.WeightedAvg.Recall, c.WeightedAvg.F1, c.Support)
	}

	for _, img := range r.Images {
		fmt.Fprintf(&b, "![%s](%s)\n\n", img, img)
	}
	return b.Bytes()
}

// HTML renders the markdown as a standalone page
func (r *RunReport) HTML() []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(r.Markdown())

	title := r.Title
	if title == "" {
		title = "Run report"
	}
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
	})
	return markdown.Render(doc, renderer)
}

// WriteHTML writes the rendered page to path
func (r *RunReport) WriteHTML(path string) error {
	if err := os.WriteFile(path, r.HTML(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
