package index

import (
	"errors"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "assets.bleve"

// Item is one local asset as seen by the index. Text fields are searchable
// by their JSON tag names (e.g. '+filename:sunset'); assetUid, hash and
// sourceUrl are indexed as exact keywords.
type Item struct {
	ID         string  `json:"id"` // Local asset id
	Type       string  `json:"type"`
	OriginalID float64 `json:"originalId,omitempty"`
	AssetUID   string  `json:"assetUid,omitempty"`
	Hash       string  `json:"hash,omitempty"`
	SourceURL  string  `json:"sourceUrl,omitempty"`
	Filename   string  `json:"filename"`
	Title      string  `json:"title,omitempty"`
	MimeType   string  `json:"mimeType,omitempty"`
	FilePath   string  `json:"filePath"`
	SizeKB     float64 `json:"sizeKB,omitempty"`
}

// DocID returns the index document id for a local asset id.
func DocID(localID int64) string {
	return strconv.FormatInt(localID, 10)
}

func newMapping() mapping.IndexMapping {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("assetUid", kw)
	doc.AddFieldMappingsAt("hash", kw)
	doc.AddFieldMappingsAt("sourceUrl", kw)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating new index at: %s", indexPath)
		return bleve.New(indexPath, newMapping())
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Opened existing index at: %s", indexPath)
	return index, nil
}

// NewMemIndex returns an in-memory index with the asset mapping.
func NewMemIndex() (bleve.Index, error) {
	return bleve.NewMemOnly(newMapping())
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// DeleteItem removes an item by document id.
func DeleteItem(index bleve.Index, id string) error {
	return index.Delete(id)
}

// FindExact returns the ids of documents whose keyword field equals value.
func FindExact(index bleve.Index, field, value string) ([]string, error) {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	req := bleve.NewSearchRequestOptions(q, 50, 0, false)
	res, err := index.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// SearchIndex performs a query string search against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
