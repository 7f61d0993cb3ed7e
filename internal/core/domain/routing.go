package domain

type TaskType string

const (
	TaskSummarizeDoc  TaskType = "summarize_doc"
	TaskQAAboutDoc    TaskType = "qa_about_doc"
	TaskMetadataQA    TaskType = "metadata_qa"
	TaskLinkedContext TaskType = "linked_context"
	TaskListDocs      TaskType = "list_docs"
	TaskFolderQA      TaskType = "folder_qa"
)

// ParseTaskType maps a classifier label onto a task type.
func ParseTaskType(raw string) (TaskType, bool) {
	switch TaskType(raw) {
	case TaskSummarizeDoc, TaskQAAboutDoc, TaskMetadataQA, TaskLinkedContext, TaskListDocs, TaskFolderQA:
		return TaskType(raw), true
	default:
		return "", false
	}
}

// DocumentScoped reports whether the task belongs to the document-scope family.
func (t TaskType) DocumentScoped() bool {
	switch t {
	case TaskSummarizeDoc, TaskQAAboutDoc, TaskMetadataQA, TaskLinkedContext:
		return true
	default:
		return false
	}
}

type SuggestedFilter struct {
	Field string `json:"field"`
	Value string `json:"value,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

type RoutingDecision struct {
	Task                  TaskType          `json:"task"`
	Confidence            float64           `json:"confidence"`
	RequiresClarification bool              `json:"requires_clarification"`
	ClarifyingQuestion    string            `json:"clarifying_question,omitempty"`
	SuggestedFilters      []SuggestedFilter `json:"suggested_filters,omitempty"`
	Alternates            []TaskType        `json:"alternates,omitempty"`
	Reason                string            `json:"reason,omitempty"`
}

// Task is the closed set of executable tasks. Each variant carries only what its
// executor needs.
type Task interface {
	Type() TaskType
	isTask()
}

type SummarizeDocTask struct {
	DocumentIDs []string
}

type QAAboutDocTask struct {
	DocumentIDs []string
}

type MetadataQATask struct {
	DocumentID string
	Fields     []string
}

type LinkedContextTask struct {
	DocumentID string
	ListOnly   bool
}

type ListDocsTask struct {
	Limit int
}

type FolderQATask struct {
	Shortlist int
}

func (SummarizeDocTask) Type() TaskType  { return TaskSummarizeDoc }
func (QAAboutDocTask) Type() TaskType    { return TaskQAAboutDoc }
func (MetadataQATask) Type() TaskType    { return TaskMetadataQA }
func (LinkedContextTask) Type() TaskType { return TaskLinkedContext }
func (ListDocsTask) Type() TaskType      { return TaskListDocs }
func (FolderQATask) Type() TaskType      { return TaskFolderQA }

func (SummarizeDocTask) isTask()  {}
func (QAAboutDocTask) isTask()    {}
func (MetadataQATask) isTask()    {}
func (LinkedContextTask) isTask() {}
func (ListDocsTask) isTask()      {}
func (FolderQATask) isTask()      {}
