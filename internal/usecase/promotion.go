package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"BiblioScanner/internal/domain"
)

// promote starts monitoring journals and authors that crossed the threshold,
// skipping ids a static task already covers. Returns the promoted ids.
func (p *Pipeline) promote(ctx context.Context, log *slog.Logger) []string {
	staticJournals, staticAuthors := p.staticEntityIDs()
	var promoted []string

	journals, err := p.ledger.PromotableJournals(ctx, p.opts.JournalThreshold)
	if err != nil {
		log.Warn("cannot load promotable journals", "error", err)
	}
	for _, id := range journals {
		if _, ok := staticJournals[entityID(id)]; ok {
			continue
		}
		if err := p.ledger.PromoteJournal(ctx, id); err != nil {
			log.Warn("journal promotion failed", "source_id", id, "error", err)
			continue
		}
		msg := fmt.Sprintf("Journal %s reached relevance threshold and is now being automatically monitored.", id)
		log.Info(msg)
		p.ledger.RecordEvent(ctx, domain.EventPromotion, msg)
		promoted = append(promoted, id)
	}

	authors, err := p.ledger.PromotableAuthors(ctx, p.opts.AuthorThreshold)
	if err != nil {
		log.Warn("cannot load promotable authors", "error", err)
	}
	for _, id := range authors {
		if _, ok := staticAuthors[entityID(id)]; ok {
			continue
		}
		if err := p.ledger.PromoteAuthor(ctx, id); err != nil {
			log.Warn("author promotion failed", "author_id", id, "error", err)
			continue
		}
		msg := fmt.Sprintf("Author %s reached relevance threshold and is now being automatically monitored.", id)
		log.Info(msg)
		p.ledger.RecordEvent(ctx, domain.EventPromotion, msg)
		promoted = append(promoted, id)
	}

	return promoted
}

func (p *Pipeline) staticEntityIDs() (journals, authors map[string]struct{}) {
	journals = map[string]struct{}{}
	authors = map[string]struct{}{}
	for _, task := range p.opts.Tasks {
		var dst map[string]struct{}
		switch task.Type {
		case domain.TaskJournal:
			dst = journals
		case domain.TaskAuthor, domain.TaskAuthorCitations:
			dst = authors
		default:
			continue
		}
		for _, id := range strings.Split(task.ID, "|") {
			if id = entityID(id); id != "" {
				dst[id] = struct{}{}
			}
		}
	}
	return journals, authors
}

// entityID reduces https://openalex.org/S123 to S123.
func entityID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}
