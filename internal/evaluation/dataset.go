package evaluation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"corpus-rag/internal/helper"
	"corpus-rag/internal/models"
	"corpus-rag/internal/parser"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const minDocumentChars = 50

// LoadStats counts what a loader did with the input lines.
type LoadStats struct {
	Loaded  int
	Skipped int
	Errors  int
}

// LoadRecords reads labeled records from a JSON array or a JSON Lines file.
// Records without a question or reference answer are skipped.
func LoadRecords(path string) ([]models.EvaluationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var records []models.EvaluationRecord
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%w: dataset %s: %v", models.ErrInvalidConfig, path, err)
		}
	} else {
		for n, line := range bytes.Split(trimmed, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var rec models.EvaluationRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("%w: dataset %s line %d: %v", models.ErrInvalidConfig, path, n+1, err)
			}
			records = append(records, rec)
		}
	}

	out := records[:0]
	for _, r := range records {
		if strings.TrimSpace(r.Question) == "" || strings.TrimSpace(r.ReferenceAnswer) == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadNQ reads up to maxQuestions labeled questions from a Natural Questions
// JSONL file. The reference answer is the first annotated short answer, or the
// yes/no answer; the long answer span becomes the reference context.
func LoadNQ(path string, maxQuestions int) ([]models.EvaluationRecord, LoadStats, error) {
	var (
		records []models.EvaluationRecord
		stats   LoadStats
	)
	err := eachLine(path, func(_ int, line []byte) bool {
		if maxQuestions > 0 && len(records) >= maxQuestions {
			return false
		}
		if !gjson.ValidBytes(line) {
			stats.Errors++
			return true
		}
		rec := gjson.ParseBytes(line)
		question := strings.TrimSpace(rec.Get("question_text").String())
		if question == "" {
			stats.Skipped++
			return true
		}
		answer := groundTruth(rec)
		if answer == "" {
			stats.Skipped++
			return true
		}
		r := models.EvaluationRecord{Question: question, ReferenceAnswer: answer}
		if long := longAnswer(rec); long != "" {
			r.ReferenceContexts = []string{long}
		}
		records = append(records, r)
		stats.Loaded++
		return true
	})
	if err != nil {
		return nil, stats, err
	}
	log.Info().Str("file", path).Int("loaded", stats.Loaded).Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).Msg("Loaded NQ questions")
	return records, stats, nil
}

// LoadNQDocuments turns the HTML document of each NQ record into a knowledge
// base Document. Documents shorter than 50 characters are skipped.
func LoadNQDocuments(path string, maxDocs int) ([]models.Document, LoadStats, error) {
	var (
		docs  []models.Document
		stats LoadStats
	)
	err := eachLine(path, func(n int, line []byte) bool {
		if maxDocs > 0 && len(docs) >= maxDocs {
			return false
		}
		if !gjson.ValidBytes(line) {
			stats.Errors++
			return true
		}
		rec := gjson.ParseBytes(line)
		htmlContent := rec.Get("document_text").String()
		if htmlContent == "" {
			stats.Skipped++
			return true
		}
		raw, err := parser.HTMLToText(strings.NewReader(htmlContent))
		if err != nil {
			stats.Errors++
			return true
		}
		text := parser.Clean(raw)
		if len(text) < minDocumentChars {
			stats.Skipped++
			return true
		}
		source := "nq_doc_" + strconv.Itoa(n)
		docs = append(docs, models.Document{
			ID:        helper.DocumentID(source),
			SourceURI: source,
			RawText:   text,
			Metadata: map[string]string{
				"example_id":   rec.Get("example_id").String(),
				"document_url": rec.Get("document_url").String(),
				"question":     rec.Get("question_text").String(),
			},
		})
		stats.Loaded++
		return true
	})
	if err != nil {
		return nil, stats, err
	}
	log.Info().Str("file", path).Int("loaded", stats.Loaded).Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).Msg("Loaded NQ documents")
	return docs, stats, nil
}

// eachLine calls fn with the zero-based number and content of every non-empty
// line until fn returns false. NQ lines can run to megabytes, so no Scanner.
func eachLine(path string, fn func(n int, line []byte) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for n := 0; ; n++ {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if !fn(n, line) {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read dataset: %w", err)
		}
	}
}

func groundTruth(rec gjson.Result) string {
	ann := rec.Get("annotations.0")
	if !ann.Exists() {
		return ""
	}
	sa := ann.Get("short_answers.0")
	if sa.Exists() {
		if answer := span(rec, sa.Get("start_token").Int(), sa.Get("end_token").Int()); answer != "" {
			return answer
		}
	}
	switch yn := ann.Get("yes_no_answer").String(); yn {
	case "YES", "NO":
		return yn
	}
	return ""
}

func longAnswer(rec gjson.Result) string {
	la := rec.Get("annotations.0.long_answer")
	if !la.Exists() {
		return ""
	}
	return span(rec, la.Get("start_token").Int(), la.Get("end_token").Int())
}

// span joins the non-HTML document tokens in [start, end). The full format
// carries document_tokens; the simplified one only a space separated
// document_text.
func span(rec gjson.Result, start, end int64) string {
	if start < 0 || end <= start {
		return ""
	}
	var tokens []string
	if dt := rec.Get("document_tokens"); dt.Exists() {
		arr := dt.Array()
		if end > int64(len(arr)) {
			return ""
		}
		for _, tok := range arr[start:end] {
			if tok.Get("html_token").Bool() {
				continue
			}
			tokens = append(tokens, tok.Get("token").String())
		}
	} else {
		fields := strings.Fields(rec.Get("document_text").String())
		if end > int64(len(fields)) {
			return ""
		}
		for _, tok := range fields[start:end] {
			if strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">") {
				continue
			}
			tokens = append(tokens, tok)
		}
	}
	return strings.TrimSpace(strings.Join(tokens, " "))
}
