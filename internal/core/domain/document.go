package domain

import "time"

// Document is the metadata row of a stored document or folder placeholder.
type Document struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"org_id"`
	FolderID       string     `json:"folder_id,omitempty"`
	Title          string     `json:"title,omitempty"`
	Subject        string     `json:"subject,omitempty"`
	Sender         string     `json:"sender,omitempty"`
	Receiver       string     `json:"receiver,omitempty"`
	Category       string     `json:"category,omitempty"`
	DocType        string     `json:"doc_type,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	Description    string     `json:"description,omitempty"`
	DocumentDate   *time.Time `json:"document_date,omitempty"`
	VersionGroupID string     `json:"version_group_id,omitempty"`
	IsFolder       bool       `json:"is_folder,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DisplayName picks the most human-readable label available.
func (d Document) DisplayName() string {
	switch {
	case d.Title != "":
		return d.Title
	case d.Filename != "":
		return d.Filename
	case d.Subject != "":
		return d.Subject
	default:
		return d.ID
	}
}

type LinkRelation string

const (
	RelationLinked  LinkRelation = "linked"
	RelationVersion LinkRelation = "version"
)

// DocumentLink is one edge returned by the link graph.
type DocumentLink struct {
	DocumentID string       `json:"document_id"`
	Relation   LinkRelation `json:"relation"`
}
