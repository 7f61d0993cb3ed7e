package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// TaskExecutors runs one strategy per task type. Executors never return errors:
// provider failures end in a deterministic answer tagged degraded.
type TaskExecutors struct {
	store     ports.DocumentStore
	links     ports.LinkGraph
	retriever *Retriever
	assembler *ContextAssembler
	generator ports.AnswerGenerator
	opts      ExecutorOptions
}

func NewTaskExecutors(
	store ports.DocumentStore,
	links ports.LinkGraph,
	retriever *Retriever,
	assembler *ContextAssembler,
	generator ports.AnswerGenerator,
	opts PipelineOptions,
) *TaskExecutors {
	return &TaskExecutors{
		store:     store,
		links:     links,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		opts:      opts.Normalize().Executor,
	}
}

type execRequest struct {
	query    domain.Query
	allow    domain.AllowSet
	degraded bool
	reason   domain.ReasonCode
	progress *answerProgress
}

func (r execRequest) retrieval(allow domain.AllowSet, limit int) RetrievalRequest {
	return RetrievalRequest{Text: r.query.Text, OrgID: r.query.Scope.OrgID, Allow: allow, Limit: limit}
}

// Execute dispatches on the task variant. Unknown variants run as QAAboutDoc.
func (x *TaskExecutors) Execute(ctx context.Context, task domain.Task, req execRequest) *domain.Answer {
	var answer *domain.Answer
	switch t := task.(type) {
	case domain.MetadataQATask:
		answer = x.metadataQA(ctx, t, req)
	case domain.SummarizeDocTask:
		answer = x.documentQA(ctx, domain.TaskSummarizeDoc, t.DocumentIDs, req)
	case domain.QAAboutDocTask:
		answer = x.documentQA(ctx, domain.TaskQAAboutDoc, t.DocumentIDs, req)
	case domain.LinkedContextTask:
		answer = x.linkedContext(ctx, t, req)
	case domain.ListDocsTask:
		answer = x.listDocs(ctx, t, req)
	case domain.FolderQATask:
		answer = x.folderQA(ctx, t, req)
	default:
		answer = x.documentQA(ctx, domain.TaskQAAboutDoc, nil, req)
	}
	if answer.Citations == nil {
		answer.Citations = []domain.Citation{}
	}
	return answer
}

// fetchDocuments loads metadata rows in the requested order. Missing rows are
// replaced by id-only placeholders so evidence can still be attributed.
func (x *TaskExecutors) fetchDocuments(ctx context.Context, ids []string) ([]domain.Document, map[string]domain.Document) {
	byID := make(map[string]domain.Document, len(ids))
	if len(ids) > 0 {
		docs, err := x.store.GetDocuments(ctx, ids)
		if err != nil {
			slog.Warn("document_lookup_failed", "ids", len(ids), "error", err)
		}
		for _, d := range docs {
			byID[d.ID] = d
		}
	}
	ordered := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		doc, ok := byID[id]
		if !ok {
			doc = domain.Document{ID: id}
			byID[id] = doc
		}
		ordered = append(ordered, doc)
	}
	return ordered, byID
}

// generate calls the provider; ok=false means the caller must fall back.
func (x *TaskExecutors) generate(ctx context.Context, task domain.TaskType, question string, contexts []domain.ContextSet, docs map[string]domain.Document) (string, domain.ReasonCode, bool) {
	if x.generator == nil {
		return "", domain.ReasonProviderUnavailable, false
	}
	req := domain.GenerationRequest{
		Question:     question,
		Task:         task,
		Instructions: instructionsFor(task),
		Sources:      promptSources(contexts, docs),
	}
	text, err := x.generator.GenerateAnswer(ctx, req)
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), domain.ReasonNone, true
	}
	reason := domain.ReasonProviderUnavailable
	if errors.Is(err, context.DeadlineExceeded) || domain.IsKind(err, domain.ErrTimeout) {
		reason = domain.ReasonTimeout
	}
	slog.Warn("executor_degraded", "task", string(task), "reason", string(reason), "error", err)
	return "", reason, false
}

func instructionsFor(task domain.TaskType) string {
	switch task {
	case domain.TaskSummarizeDoc:
		return "Summarize the document using only the sources. Keep it short and factual."
	case domain.TaskFolderQA:
		return "Answer using the sources from several documents. Name the document each fact comes from."
	case domain.TaskLinkedContext:
		return "Answer using the document and its linked or versioned documents. Point out differences between versions when relevant."
	default:
		return "Answer the question using only the sources. If the sources do not contain the answer, say so."
	}
}

func promptSources(contexts []domain.ContextSet, docs map[string]domain.Document) []domain.PromptSource {
	var out []domain.PromptSource
	for _, set := range contexts {
		for _, c := range set.Chunks {
			out = append(out, domain.PromptSource{
				Label:      docs[c.DocumentID].DisplayName(),
				DocumentID: c.DocumentID,
				Page:       c.Page,
				Text:       c.Text,
			})
		}
	}
	return out
}

func (x *TaskExecutors) citations(contexts []domain.ContextSet, docs map[string]domain.Document) []domain.Citation {
	out := make([]domain.Citation, 0, 8)
	for _, set := range contexts {
		for _, c := range set.Chunks {
			out = append(out, domain.Citation{
				DocumentID:  c.DocumentID,
				Page:        c.Page,
				Snippet:     truncateRunes(c.Text, min(x.opts.SnippetLength, domain.MaxSnippetLength)),
				DisplayName: docs[c.DocumentID].DisplayName(),
			})
		}
	}
	return out
}

func evidence(contexts []domain.ContextSet) []string {
	var out []string
	for _, set := range contexts {
		for _, c := range set.Chunks {
			out = append(out, c.Text)
		}
	}
	return out
}

func contextConfidence(contexts []domain.ContextSet) float64 {
	best := 0.0
	for _, set := range contexts {
		for _, c := range set.Chunks {
			if c.Similarity != nil && *c.Similarity > best {
				best = *c.Similarity
			}
		}
	}
	return clamp01(0.55 + 0.4*best)
}

func noConfidentMatch(task domain.TaskType, text string) *domain.Answer {
	return &domain.Answer{
		Text:       text,
		Citations:  []domain.Citation{},
		Task:       task,
		Confidence: 0.2,
		Reason:     domain.ReasonNoConfidentMatch,
	}
}
