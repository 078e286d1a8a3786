package evaluation

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"corpus-rag/internal/helper"
	"corpus-rag/internal/models"

	"github.com/charmbracelet/lipgloss"
)

// Targets are the scores a production ready pipeline is expected to reach.
var Targets = map[string]float64{
	models.MetricFaithfulness:     0.9,
	models.MetricAnswerRelevancy:  0.8,
	models.MetricContextPrecision: 0.8,
	models.MetricContextRecall:    0.7,
}

var metricLabels = map[string]string{
	models.MetricFaithfulness:     "Faithfulness",
	models.MetricAnswerRelevancy:  "Answer Relevancy",
	models.MetricContextPrecision: "Context Precision",
	models.MetricContextRecall:    "Context Recall",
}

type Status int

const (
	StatusFail Status = iota
	StatusWarn
	StatusPass
)

// MetricStatus is pass at or above target, warn within 0.1 below it.
func MetricStatus(score, target float64) Status {
	switch {
	case score >= target:
		return StatusPass
	case score >= target-0.1:
		return StatusWarn
	}
	return StatusFail
}

// Assessment grades the whole run from faithfulness and the metric mean.
func Assessment(aggregates map[string]float64) string {
	var sum float64
	for _, m := range models.MetricNames {
		sum += aggregates[m]
	}
	avg := sum / float64(len(models.MetricNames))
	faith := aggregates[models.MetricFaithfulness]
	switch {
	case faith >= 0.9 && avg >= 0.8:
		return "PRODUCTION READY"
	case faith >= 0.85 && avg >= 0.7:
		return "GOOD"
	}
	return "NEEDS IMPROVEMENT"
}

// WriteReport stores the report as JSON and as a per-question CSV in dir.
func WriteReport(dir string, r models.EvaluationReport) (jsonPath, csvPath string, err error) {
	if err := helper.CreateFolder(dir); err != nil {
		return "", "", err
	}
	jsonPath = filepath.Join(dir, "evaluation_"+r.RunID+".json")
	csvPath = filepath.Join(dir, "evaluation_"+r.RunID+".csv")

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write report: %w", err)
	}

	f, err := os.Create(csvPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to write report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"question", "answer", "sources"}, models.MetricNames...)
	header = append(header, "error")
	if err := w.Write(header); err != nil {
		return "", "", err
	}
	for _, q := range r.Questions {
		row := []string{q.Question, q.Answer, strings.Join(q.Sources, ";")}
		for _, m := range models.MetricNames {
			row = append(row, strconv.FormatFloat(q.Scores[m], 'f', 4, 64))
		}
		row = append(row, q.Error)
		if err := w.Write(row); err != nil {
			return "", "", err
		}
	}
	w.Flush()
	return jsonPath, csvPath, w.Error()
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func styleFor(s Status) lipgloss.Style {
	switch s {
	case StatusPass:
		return passStyle
	case StatusWarn:
		return warnStyle
	}
	return failStyle
}

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	}
	return "FAIL"
}

// Summary renders the aggregate scores for a terminal.
func Summary(r models.EvaluationReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Evaluation "+r.RunID) + "\n")
	fmt.Fprintf(&b, "%s\n\n", dimStyle.Render(fmt.Sprintf("%d questions, %d failed", len(r.Questions), r.Failed)))

	for _, m := range models.MetricNames {
		score, target := r.Aggregates[m], Targets[m]
		st := MetricStatus(score, target)
		fmt.Fprintf(&b, "%s %-18s %.3f %s\n",
			styleFor(st).Render(st.String()), metricLabels[m], score,
			dimStyle.Render(fmt.Sprintf("(target > %.1f)", target)))
	}

	assessment := Assessment(r.Aggregates)
	st := StatusFail
	switch assessment {
	case "PRODUCTION READY":
		st = StatusPass
	case "GOOD":
		st = StatusWarn
	}
	fmt.Fprintf(&b, "\nStatus: %s", styleFor(st).Render(assessment))
	return boxStyle.Render(b.String())
}
