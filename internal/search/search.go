package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultFile    ResultType = "file"
	ResultComment ResultType = "comment"
)

func (t ResultType) Valid() bool {
	return t == "" || t == ResultFile || t == ResultComment
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	FileID  string     `json:"fileId"`
	Team    string     `json:"team,omitempty"`
	Status  string     `json:"status,omitempty"`

	uploaderID string
}

// Query describes a search request. Team and UploaderID scope the results
// to what the reader may see; empty means unrestricted.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Team       string
	UploaderID string
	Limit      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// FileRecord is the data we index for a file.
type FileRecord struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	Description  string `json:"description"`
	Team         string `json:"team"`
	UploaderID   string `json:"uploaderId"`
	Status       string `json:"status"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
	Team       string `json:"team"`
	UploaderID string `json:"uploaderId"`
}

// visible drops hits outside the query scope. The index filters too; this
// keeps the guarantee when a filterable attribute is still being applied.
func visible(results []Result, q Query) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if q.Team != "" && r.Team != q.Team {
			continue
		}
		if q.UploaderID != "" && r.uploaderID != q.UploaderID {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}
