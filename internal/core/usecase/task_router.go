package usecase

import (
	"context"
	"strings"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

// TaskRouter classifies a query into exactly one task type.
type TaskRouter interface {
	Route(ctx context.Context, q domain.Query, allow domain.AllowSet) domain.RoutingDecision
	Name() string
}

var (
	metadataPhrases = []string{
		"sender", "sent by", "who sent", "sent this", "from whom", "receiver", "recipient",
		"addressed to", "who received", "received by", "file name", "filename", "file type",
		"document type", "doc type", "type of document", "kind of document", "what type",
		"document date", "dated", "category", "title of",
	}
	linkedPhrases = []string{
		"linked", "links", "link to", "related document", "related documents", "attachment",
		"attachments", "attached", "version", "versions", "previous version", "latest version",
		"earlier version", "revision", "revisions", "supersedes", "superseded", "amendment",
		"amendments", "references this", "other versions",
	}
	overviewPhrases = []string{
		"summarize", "summarise", "summary", "overview", "what is this", "what s this",
		"what is this about", "what is it about", "what s this about", "gist", "main points", "key points", "describe", "explain", "tl dr", "tldr",
		"highlights", "outline",
	}
	listPhrases = []string{
		"list", "find", "show", "search", "look for", "which documents", "which files",
		"which docs", "any documents", "all documents", "all files", "documents from",
		"documents about", "docs about", "files about", "where is", "locate",
	}
	analyticalPhrases = []string{
		"compare", "comparison", "across", "total", "sum", "how many", "how much",
		"average", "trend", "difference", "differences", "between", "overall", "each",
		"all of", "combined", "aggregate", "count",
	}
	countPhrases    = []string{"how many", "number of", "count"}
	anaphoraPhrases = []string{
		"this document", "this doc", "this file", "that document", "the document", "it",
		"this", "that one",
	}
	metadataFieldVocabulary = map[string][]string{
		"sender":        {"sender", "sent by", "who sent", "sent this", "from whom"},
		"receiver":      {"receiver", "recipient", "addressed to", "who received", "received by"},
		"filename":      {"file name", "filename"},
		"doc_type":      {"file type", "document type", "doc type", "type of document", "kind of document", "what type"},
		"document_date": {"document date", "dated", "when was", "what date"},
		"category":      {"category"},
		"title":         {"title of", "title"},
		"subject":       {"subject"},
	}
)

// routingTarget picks the document a doc-scope task applies to: the scope target in
// doc scope, or a single remembered focus document referenced by the question.
func routingTarget(q domain.Query, allow domain.AllowSet) (string, bool) {
	if q.Scope.Kind == domain.ScopeDoc {
		ids := allow.Filter(q.Scope.TargetIDs)
		if len(ids) > 0 {
			return ids[0], true
		}
		return "", false
	}
	focus := allow.Filter(q.Memory.FocusDocIDs)
	if len(focus) == 1 && containsPhrase(normalizedPhrase(q.Text), anaphoraPhrases) {
		return focus[0], true
	}
	return "", false
}

// hardRule applies the vocabulary rules that take precedence over any soft scoring.
func hardRule(q domain.Query, allow domain.AllowSet, opts RouterOptions) (domain.RoutingDecision, bool) {
	if _, ok := routingTarget(q, allow); !ok {
		return domain.RoutingDecision{}, false
	}
	text := normalizedPhrase(q.Text)
	if containsPhrase(text, metadataPhrases) || containsPhrase(text, opts.MetadataPhrases) {
		return domain.RoutingDecision{
			Task:       domain.TaskMetadataQA,
			Confidence: 0.95,
			Reason:     "hard_rule_metadata",
		}, true
	}
	if containsPhrase(text, linkedPhrases) || containsPhrase(text, opts.LinkedPhrases) {
		return domain.RoutingDecision{
			Task:       domain.TaskLinkedContext,
			Confidence: 0.9,
			Reason:     "hard_rule_linked",
		}, true
	}
	return domain.RoutingDecision{}, false
}

func failOpenDecision(opts RouterOptions) domain.RoutingDecision {
	return domain.RoutingDecision{
		Task:       domain.TaskQAAboutDoc,
		Confidence: opts.FailOpenConfidence,
		Reason:     string(domain.ReasonRouterFailOpen),
	}
}

// BuildTask turns a routing decision into the executable task variant.
func BuildTask(decision domain.RoutingDecision, q domain.Query, allow domain.AllowSet, opts PipelineOptions) domain.Task {
	opts = opts.Normalize()
	target, hasTarget := routingTarget(q, allow)
	var targets []string
	if hasTarget {
		targets = []string{target}
	}

	switch decision.Task {
	case domain.TaskMetadataQA:
		if hasTarget {
			return domain.MetadataQATask{DocumentID: target, Fields: requestedMetadataFields(q.Text)}
		}
	case domain.TaskLinkedContext:
		if hasTarget {
			return domain.LinkedContextTask{DocumentID: target, ListOnly: linkedListingOnly(q.Text)}
		}
	case domain.TaskSummarizeDoc:
		if hasTarget {
			return domain.SummarizeDocTask{DocumentIDs: targets}
		}
	case domain.TaskListDocs:
		return domain.ListDocsTask{Limit: opts.Executor.ListLimit}
	case domain.TaskFolderQA:
		return domain.FolderQATask{Shortlist: opts.Executor.FolderShortlist}
	}
	return domain.QAAboutDocTask{DocumentIDs: targets}
}

func requestedMetadataFields(question string) []string {
	text := normalizedPhrase(question)
	order := []string{"title", "subject", "sender", "receiver", "document_date", "doc_type", "category", "filename"}
	out := make([]string, 0, 2)
	for _, field := range order {
		if containsPhrase(text, metadataFieldVocabulary[field]) {
			out = append(out, field)
		}
	}
	return out
}

// linkedListingOnly reports whether the question asks for nothing but the links.
func linkedListingOnly(question string) bool {
	vocabulary := toTokenSet(strings.Join(append(append([]string(nil), linkedPhrases...), "which", "what", "other", "are", "there", "any"), " "))
	for _, term := range contentTerms(question) {
		if _, ok := vocabulary[term]; ok {
			continue
		}
		return false
	}
	return true
}

func allowedForScope(task domain.TaskType, q domain.Query, allow domain.AllowSet) bool {
	if !task.DocumentScoped() {
		return q.Scope.MultiDocument()
	}
	if task == domain.TaskQAAboutDoc {
		return true
	}
	_, ok := routingTarget(q, allow)
	return ok
}
