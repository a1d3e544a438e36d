package store

import (
	"context"
	"fmt"
	"time"

	"medrecords/internal/db"
	"medrecords/internal/utils"
	"medrecords/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
)

const inboundDocumentTableName = "medrecords.inbound_documents"

var inboundDocumentColumns = utils.StructTagValues(types.InboundDocument{})

type InboundDocumentRepository struct {
	pool db.Querier
}

func NewInboundDocumentRepository(pool db.Querier) *InboundDocumentRepository {
	return &InboundDocumentRepository{pool: pool}
}

// InsertIfAbsent stores doc unless a document with the same job and
// transaction id already exists. It returns the stored row and whether it was
// newly inserted.
func (r *InboundDocumentRepository) InsertIfAbsent(ctx context.Context, doc *types.InboundDocument) (*types.InboundDocument, bool, error) {
	query, args, err := psql().
		Insert(inboundDocumentTableName).
		SetMap(utils.StructToMap(doc)).
		Suffix("ON CONFLICT (job_id, transaction_id) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate insert inbound document query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return nil, false, mapError(err, nil, "failed to insert inbound document")
	}

	if tag.RowsAffected() == 1 {
		return doc, true, nil
	}

	existing, err := r.getOne(ctx, sq.Eq{"job_id": doc.JobID, "transaction_id": doc.TransactionID})
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (r *InboundDocumentRepository) InboundDocument(ctx context.Context, id string) (*types.InboundDocument, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

func (r *InboundDocumentRepository) getOne(ctx context.Context, where sq.Eq) (*types.InboundDocument, error) {
	query, args, err := psql().
		Select(inboundDocumentColumns...).
		From(inboundDocumentTableName).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate inbound document query: %w", err)
	}

	var doc types.InboundDocument
	err = pgxscan.Get(ctx, db.QuerierFromCtx(ctx, r.pool), &doc, query, args...)
	if err != nil {
		return nil, mapError(err, types.ErrInboundDocumentNotFound, "failed to fetch inbound document")
	}

	return &doc, nil
}

// SaveExtraction stores the OCR text and anything derived from it.
func (r *InboundDocumentRepository) SaveExtraction(ctx context.Context, id, text string, encounterDate *time.Time) error {
	query, args, err := psql().
		Update(inboundDocumentTableName).
		Set("ocr_text", text).
		Set("encounter_date", encounterDate).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate save extraction query: %w", err)
	}

	_, err = db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	return utils.ErrorWrapOrNil(err, "failed to save extraction")
}

// LinkInboundDocument attaches the document to a provider request. The update
// only lands when the document is unlinked and not already tied to another
// patient, which keeps a document to at most one match.
func (r *InboundDocumentRepository) LinkInboundDocument(ctx context.Context, id, providerRequestID, patientID string, confidence float64, at time.Time) (bool, error) {
	query, args, err := psql().
		Update(inboundDocumentTableName).
		Set("provider_request_id", providerRequestID).
		Set("patient_id", patientID).
		Set("match_confidence", confidence).
		Set("matched_at", at).
		Where(sq.Eq{"id": id, "provider_request_id": nil}).
		Where(sq.Or{sq.Eq{"patient_id": nil}, sq.Eq{"patient_id": patientID}}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate link inbound document query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, nil, "failed to link inbound document")
	}

	return tag.RowsAffected() == 1, nil
}

// AttributePatient records which patient an unlinked document is about. With
// replace unset an existing attribution is kept.
func (r *InboundDocumentRepository) AttributePatient(ctx context.Context, id, patientID string, confidence float64, replace bool) (bool, error) {
	builder := psql().
		Update(inboundDocumentTableName).
		Set("patient_id", patientID).
		Set("match_confidence", confidence).
		Where(sq.Eq{"id": id, "provider_request_id": nil})
	if !replace {
		builder = builder.Where(sq.Eq{"patient_id": nil})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to generate attribute patient query: %w", err)
	}

	tag, err := db.QuerierFromCtx(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, mapError(err, types.ErrPatientNotFound, "failed to attribute inbound document")
	}

	return tag.RowsAffected() == 1, nil
}

// AttributedUnlinkedInboundDocuments lists unlinked documents whose patient
// now has a provider request awaiting a reply. An empty patientID covers
// every patient.
func (r *InboundDocumentRepository) AttributedUnlinkedInboundDocuments(ctx context.Context, patientID string) ([]*types.InboundDocument, error) {
	awaiting := sq.Expr(
		"EXISTS (SELECT 1 FROM "+providerRequestTableName+" pr JOIN "+recordRequestTableName+" rr ON rr.id = pr.record_request_id"+
			" WHERE rr.patient_id = d.patient_id AND pr.status IN (?, ?) AND rr.status NOT IN (?, ?))",
		types.ProviderRequestStatusFaxSent, types.ProviderRequestStatusFaxDelivered,
		types.RecordRequestStatusComplete, types.RecordRequestStatusCancelled,
	)

	builder := psql().
		Select(utils.PrefixSliceOfStrings("d", inboundDocumentColumns)...).
		From(inboundDocumentTableName + " d").
		Where(sq.Eq{"d.provider_request_id": nil}).
		Where(sq.NotEq{"d.patient_id": nil}).
		Where(awaiting).
		OrderBy("d.received_at ASC")
	if patientID != "" {
		builder = builder.Where(sq.Eq{"d.patient_id": patientID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attributed documents query: %w", err)
	}

	var docs []*types.InboundDocument
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &docs, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch attributed inbound documents")
	}

	return docs, nil
}

// UnmatchedInboundDocuments lists documents no provider request has claimed yet.
func (r *InboundDocumentRepository) UnmatchedInboundDocuments(ctx context.Context) ([]*types.InboundDocument, error) {
	return r.list(ctx, sq.Eq{"provider_request_id": nil}, "failed to fetch unmatched inbound documents")
}

// UnprocessedInboundDocuments lists documents that never made it through OCR.
func (r *InboundDocumentRepository) UnprocessedInboundDocuments(ctx context.Context) ([]*types.InboundDocument, error) {
	return r.list(ctx, sq.Eq{"ocr_text": nil, "provider_request_id": nil}, "failed to fetch unprocessed inbound documents")
}

func (r *InboundDocumentRepository) list(ctx context.Context, where sq.Eq, msg string) ([]*types.InboundDocument, error) {
	query, args, err := psql().
		Select(inboundDocumentColumns...).
		From(inboundDocumentTableName).
		Where(where).
		OrderBy("received_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate inbound documents query: %w", err)
	}

	var docs []*types.InboundDocument
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &docs, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, msg)
	}

	return docs, nil
}

// DocumentsForRecordRequest returns the documents linked to the record
// request's provider requests, in provider request creation order.
func (r *InboundDocumentRepository) DocumentsForRecordRequest(ctx context.Context, recordRequestID string) ([]*types.InboundDocument, error) {
	query, args, err := psql().
		Select(utils.PrefixSliceOfStrings("d", inboundDocumentColumns)...).
		From(inboundDocumentTableName + " d").
		Join(providerRequestTableName + " pr ON pr.id = d.provider_request_id").
		Where(sq.Eq{"pr.record_request_id": recordRequestID, "pr.status": types.ProviderRequestStatusResponseReceived}).
		OrderBy("pr.created_at ASC", "pr.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record request documents query: %w", err)
	}

	var docs []*types.InboundDocument
	err = pgxscan.Select(ctx, db.QuerierFromCtx(ctx, r.pool), &docs, query, args...)
	if err != nil {
		return nil, utils.ErrorWrapOrNil(err, "failed to fetch record request documents")
	}

	return docs, nil
}
