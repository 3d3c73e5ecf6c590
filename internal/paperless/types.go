package paperless

// Document is a Paperless-NGX document as seen by the reconciler. Date
// fields carry the raw source strings; the sink parses them and omits the
// ones it cannot parse.
type Document struct {
	ID               int    `json:"id"`
	Title            string `json:"title"`
	Created          string `json:"created"`
	Added            string `json:"added"`
	Modified         string `json:"modified"`
	Correspondent    *int   `json:"correspondent"`
	Tags             []int  `json:"tags"`
	OriginalFileName string `json:"original_file_name"`
}

type Tag struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Correspondent struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DocumentFile is the lazily fetched raw content of a document plus the
// stable download URL used for external file references in the sink.
type DocumentFile struct {
	Name    string
	URL     string
	Content []byte
}
