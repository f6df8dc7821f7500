package curation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/neurolite-ai/neurolite/internal/knowledge"
)

// Pair is one line of an import file (JSON lines format).
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ImportResult summarizes a bulk import run.
type ImportResult struct {
	Inserted int
	Skipped  int
	Issues   []Issue
}

// ImportFile reads JSONL question/answer pairs from path, validates each,
// and inserts the clean ones with the given source tag. Flagged pairs are
// skipped, never inserted.
func ImportFile(path string, store *knowledge.Store, v *Validator, source string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	res := &ImportResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var pair Pair
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", line, err)
		}
		if pair.Question == "" || pair.Answer == "" {
			res.Skipped++
			log.Printf("[curation] line %d missing question or answer, skipped", line)
			continue
		}

		issues := v.Check(pair.Question, pair.Answer)
		if len(issues) > 0 {
			res.Skipped++
			res.Issues = append(res.Issues, issues...)
			log.Printf("[curation] line %d rejected: %s (%s)", line, issues[0].Kind, issues[0].Detail)
			continue
		}

		if _, err := store.Insert(pair.Question, pair.Answer, source); err != nil {
			return nil, fmt.Errorf("insert line %d: %w", line, err)
		}
		res.Inserted++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}

	log.Printf("[curation] import done: %d inserted, %d skipped", res.Inserted, res.Skipped)
	return res, nil
}

// SeedValidator builds a validator preloaded with the store's existing
// pairs.
func SeedValidator(store *knowledge.Store) (*Validator, error) {
	entries, err := store.All()
	if err != nil {
		return nil, fmt.Errorf("load existing entries: %w", err)
	}
	pairs := make([][2]string, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, [2]string{e.Question, e.Answer})
	}
	return NewValidator(pairs), nil
}
