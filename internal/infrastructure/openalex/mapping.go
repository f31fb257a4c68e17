package openalex

import (
	"sort"
	"strings"
	"time"

	"BiblioScanner/internal/domain"
)

const unknownSource = "Unknown Source"

// reconstructAbstract inverts a word -> positions index back into text.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}

	type token struct {
		pos  int
		word string
	}
	tokens := make([]token, 0, len(index))
	for word, positions := range index {
		for _, pos := range positions {
			tokens = append(tokens, token{pos: pos, word: word})
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].pos != tokens[j].pos {
			return tokens[i].pos < tokens[j].pos
		}
		return tokens[i].word < tokens[j].word
	})

	words := make([]string, len(tokens))
	for i, tok := range tokens {
		words[i] = tok.word
	}
	return strings.Join(words, " ")
}

// toPaper maps a work to the domain model; now backs a missing publication date.
func toPaper(w Work, now time.Time) domain.Paper {
	link := w.DOI
	if link == "" {
		link = w.ID
	}

	published := now
	if w.PublicationDate != "" {
		if parsed, err := time.Parse("2006-01-02", w.PublicationDate); err == nil {
			published = parsed
		}
	}

	source := unknownSource
	var sourceID string
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil {
		if w.PrimaryLocation.Source.DisplayName != "" {
			source = w.PrimaryLocation.Source.DisplayName
		}
		sourceID = shortID(w.PrimaryLocation.Source.ID)
	}

	var authors, authorIDs []string
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			authors = append(authors, a.Author.DisplayName)
		}
		if id := shortID(a.Author.ID); id != "" {
			authorIDs = append(authorIDs, id)
		}
	}

	var topics []string
	for _, topic := range w.Topics {
		if topic.DisplayName != "" {
			topics = append(topics, topic.DisplayName)
		}
	}

	title := w.Title
	if title == "" {
		title = "No Title"
	}

	return domain.NewPaper(domain.Paper{
		Title:     title,
		Link:      link,
		Published: published,
		Source:    source,
		SourceID:  sourceID,
		Abstract:  reconstructAbstract(w.AbstractInvertedIndex),
		Authors:   authors,
		AuthorIDs: authorIDs,
		DOI:       w.DOI,
		WorkType:  w.Type,
		Topics:    topics,
	})
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
