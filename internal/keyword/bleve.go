package keyword

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kensaku/internal/models"
)

// Indexed field names.
const (
	fieldCollection = "collection_id"
	fieldChunkID    = "chunk_id"
	fieldText       = "text"
	fieldMetadata   = "metadata"
)

// deleteBatchSize bounds how many documents DeleteCollection removes per round.
const deleteBatchSize = 1000

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so "bayes" matches "Bayes"
	// without the English stemmer turning "Bayesian" into "bayesi".
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	chunkMapping.AddFieldMappingsAt(fieldText, textFieldMapping)

	for _, field := range []string{fieldCollection, fieldChunkID} {
		idFieldMapping := bleve.NewTextFieldMapping()
		idFieldMapping.Analyzer = keywordanalyzer.Name
		idFieldMapping.IncludeInAll = false
		chunkMapping.AddFieldMappingsAt(field, idFieldMapping)
	}

	metaFieldMapping := bleve.NewTextFieldMapping()
	metaFieldMapping.Index = false
	metaFieldMapping.IncludeInAll = false
	chunkMapping.AddFieldMappingsAt(fieldMetadata, metaFieldMapping)

	im.AddDocumentMapping("chunk", chunkMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = chunkMapping
	return im
}

// docID scopes a chunk id to its collection. The length prefix keeps ids that
// contain the separator from colliding.
func docID(collectionID, chunkID string) string {
	return fmt.Sprintf("%d:%s:%s", len(collectionID), collectionID, chunkID)
}

// IndexChunks indexes chunks under the collection in one batch. Re-indexing a chunk
// id replaces the previous document.
func (b *BleveIndex) IndexChunks(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := map[string]interface{}{
			fieldCollection: collectionID,
			fieldChunkID:    c.ID,
			fieldText:       c.Text,
		}
		if len(c.Metadata) > 0 {
			meta, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata for chunk %s: %w", c.ID, err)
			}
			doc[fieldMetadata] = string(meta)
		}
		if err := batch.Index(docID(collectionID, c.ID), doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over the collection's chunk text and returns up to limit results.
// When opts.FuzzyEnabled is true, fuzzy matching is used for typo tolerance.
// When opts.PhraseBoost > 1, chunks containing the query as a phrase are boosted.
func (b *BleveIndex) Search(ctx context.Context, collectionID, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		return []*KeywordResult{}, nil
	}
	phraseBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var textQuery blevequery.Query
	if fuzzyEnabled {
		textQuery = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(fieldText)
		textQuery = mq
	}

	reqSize := limit
	if phraseBoost > 1.0 {
		// Over-fetch so boosted chunks below the cut can move up.
		reqSize = max(limit*2, 50)
	}
	req := bleve.NewSearchRequestOptions(inCollection(collectionID, textQuery), reqSize, 0, false)
	req.Fields = []string{fieldChunkID, fieldText, fieldMetadata}
	req.SortBy([]string{"-_score", "_id"})
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	var phraseMatches map[string]bool
	if phraseBoost > 1.0 && len(tokenizeQuery(query)) > 1 {
		phraseMatches = b.findPhraseMatches(ctx, collectionID, query, reqSize)
	}

	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		chunk, err := chunkFromFields(hit.Fields)
		if err != nil {
			return nil, fmt.Errorf("hit %s: %w", hit.ID, err)
		}
		score := hit.Score
		if phraseMatches[hit.ID] {
			score *= phraseBoost
		}
		out = append(out, &KeywordResult{Chunk: chunk, Score: score})
	}
	if phraseMatches != nil {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func inCollection(collectionID string, q blevequery.Query) blevequery.Query {
	tq := bleve.NewTermQuery(collectionID)
	tq.SetField(fieldCollection)
	return bleve.NewConjunctionQuery(tq, q)
}

func chunkFromFields(fields map[string]interface{}) (models.Chunk, error) {
	var c models.Chunk
	c.ID, _ = fields[fieldChunkID].(string)
	c.Text, _ = fields[fieldText].(string)
	if meta, ok := fields[fieldMetadata].(string); ok && meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return c, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return c, nil
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries over the text field, one per term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(fieldText)
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(fieldText)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// findPhraseMatches finds chunks in the collection where the query appears as a phrase.
func (b *BleveIndex) findPhraseMatches(ctx context.Context, collectionID, query string, reqSize int) map[string]bool {
	matches := make(map[string]bool)
	pq := bleve.NewMatchPhraseQuery(query)
	pq.SetField(fieldText)
	req := bleve.NewSearchRequestOptions(inCollection(collectionID, pq), reqSize, 0, false)
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return matches
	}
	for _, hit := range results.Hits {
		matches[hit.ID] = true
	}
	return matches
}

// DeleteCollection removes every chunk of the collection from the index.
func (b *BleveIndex) DeleteCollection(ctx context.Context, collectionID string) error {
	tq := bleve.NewTermQuery(collectionID)
	tq.SetField(fieldCollection)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequestOptions(tq, deleteBatchSize, 0, false)
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve batch delete failed: %w", err)
		}
	}
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of chunks in the index across collections.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
