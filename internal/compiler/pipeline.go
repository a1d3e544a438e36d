// Package compiler assembles the final patient record: the signed consent
// followed by every provider reply, converted to searchable PDF and merged
// into one document.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"medrecords/internal/storage"
	"medrecords/internal/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrNothingToCompile = errors.New("no usable inbound documents to compile")

type Converter interface {
	ToSearchable(ctx context.Context, document []byte) ([]byte, error)
}

type DocumentRef struct {
	ID  string
	Key string
}

type Input struct {
	RecordRequestID string
	ConsentKey      string
	// Documents in the order they should appear after the consent.
	Documents []DocumentRef
}

type Skipped struct {
	DocumentID string `json:"documentId"`
	Reason     string `json:"reason"`
}

type Result struct {
	Key      string    `json:"key"`
	Included []string  `json:"included"`
	Skipped  []Skipped `json:"skipped,omitempty"`
	Bytes    int       `json:"bytes"`
}

type Pipeline struct {
	logger      *logrus.Logger
	store       storage.DocumentStore
	converter   Converter
	pdf         PDFTool
	concurrency int
}

func NewPipeline(logger *logrus.Logger, store storage.DocumentStore, converter Converter, pdf PDFTool, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		logger:      logger,
		store:       store,
		converter:   converter,
		pdf:         pdf,
		concurrency: concurrency,
	}
}

type prepared struct {
	data   []byte
	reason string
}

// Compile builds and stores the compiled record. A document that cannot be
// made searchable is included as received; one that is not a readable PDF is
// skipped and reported in the result, as is one the merge rejects. When no
// document survives the call fails with ErrNothingToCompile and nothing is
// stored.
func (p *Pipeline) Compile(ctx context.Context, in Input) (*Result, error) {
	entry := p.logger.WithField("record_request_id", in.RecordRequestID)

	consent, err := p.store.Get(ctx, in.ConsentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent document: %w", err)
	}
	if err := p.pdf.Validate(consent); err != nil {
		return nil, fmt.Errorf("consent document: %w", err)
	}

	docs := make([]prepared, len(in.Documents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, ref := range in.Documents {
		g.Go(func() error {
			docs[i] = p.prepare(gctx, entry, ref)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compilation interrupted: %w", err)
	}

	result := &Result{}
	parts := [][]byte{consent}
	var ids []string
	for i, d := range docs {
		if d.reason != "" {
			result.Skipped = append(result.Skipped, Skipped{DocumentID: in.Documents[i].ID, Reason: d.reason})
			continue
		}
		parts = append(parts, d.data)
		ids = append(ids, in.Documents[i].ID)
	}

	if len(ids) == 0 {
		entry.WithField("skipped", len(result.Skipped)).Warn("no inbound document could be compiled")
		return result, ErrNothingToCompile
	}

	var out bytes.Buffer
	if err := p.pdf.Merge(parts, &out); err != nil {
		entry.WithError(err).Warn("merge failed, retrying one document at a time")
		out.Reset()
		if err := p.mergeEach(entry, parts, ids, result, &out); err != nil {
			return nil, err
		}
		if len(result.Included) == 0 {
			entry.WithField("skipped", len(result.Skipped)).Warn("no inbound document could be merged")
			return result, ErrNothingToCompile
		}
	} else {
		result.Included = ids
	}

	result.Key = storage.CompiledKey(in.RecordRequestID, utils.NanoID())
	result.Bytes = out.Len()

	if err := p.store.Put(ctx, result.Key, storage.ContentTypePDF, out.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to store compiled document: %w", err)
	}

	entry.WithFields(logrus.Fields{
		"key":      result.Key,
		"included": len(result.Included),
		"skipped":  len(result.Skipped),
	}).Info("record compiled")

	return result, nil
}

// mergeEach adds documents to the consent one at a time and drops any that
// the merge rejects. parts[0] is the consent; parts[i+1] belongs to ids[i].
func (p *Pipeline) mergeEach(entry *logrus.Entry, parts [][]byte, ids []string, result *Result, out *bytes.Buffer) error {
	accepted := [][]byte{parts[0]}
	var first bytes.Buffer
	if err := p.pdf.Merge(accepted, &first); err != nil {
		return fmt.Errorf("consent document: %w", err)
	}
	merged := first.Bytes()

	for i, id := range ids {
		var attempt bytes.Buffer
		if err := p.pdf.Merge(append(accepted, parts[i+1]), &attempt); err != nil {
			entry.WithError(err).WithField("inbound_document_id", id).Warn("skipping inbound document that cannot be merged")
			result.Skipped = append(result.Skipped, Skipped{DocumentID: id, Reason: fmt.Sprintf("merge: %v", err)})
			continue
		}
		accepted = append(accepted, parts[i+1])
		result.Included = append(result.Included, id)
		merged = attempt.Bytes()
	}

	out.Write(merged)
	return nil
}

func (p *Pipeline) prepare(ctx context.Context, entry *logrus.Entry, ref DocumentRef) prepared {
	entry = entry.WithField("inbound_document_id", ref.ID)

	original, err := p.store.Get(ctx, ref.Key)
	if err != nil {
		entry.WithError(err).Warn("skipping unreadable inbound document")
		return prepared{reason: fmt.Sprintf("load: %v", err)}
	}

	data := original
	searchable, err := p.converter.ToSearchable(ctx, original)
	switch {
	case err != nil:
		entry.WithError(err).Warn("searchable conversion failed, using original")
	case len(searchable) == 0:
		entry.Warn("searchable conversion returned nothing, using original")
	default:
		data = searchable
	}

	if err := p.pdf.Validate(data); err != nil {
		if !bytes.Equal(data, original) && p.pdf.Validate(original) == nil {
			entry.WithError(err).Warn("converted document invalid, using original")
			return prepared{data: original}
		}
		entry.WithError(err).Warn("skipping invalid inbound document")
		return prepared{reason: err.Error()}
	}

	return prepared{data: data}
}
