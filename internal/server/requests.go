package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"medrecords/internal/storage"
	"medrecords/pkg/types"
)

const downloadTokenName = "download"

func (s *Service) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body types.CreateRecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid request payload")
		return
	}

	rr, _, err := s.orch.CreateRequest(r.Context(), body.PatientID, body.ConsentKey, body.ProviderIDs)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.orch.QueueDispatch(rr.ID)

	view, err := s.orch.RecordRequestStatus(r.Context(), rr.ID)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/requests/"+rr.ID)
	s.renderJSON(w, http.StatusCreated, view)
}

func (s *Service) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	view, err := s.orch.RecordRequestStatus(r.Context(), id)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	if view.Status == types.RecordRequestStatusComplete {
		token, err := s.cookie.Encode(downloadTokenName, id)
		if err != nil {
			s.logger.WithError(err).Error("failed to sign download link")
		} else {
			view.DownloadURL = "/requests/" + url.PathEscape(id) + "/document?token=" + url.QueryEscape(token)
		}
	}

	s.renderJSON(w, http.StatusOK, view)
}

func (s *Service) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	rr, err := s.orch.CancelRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.renderJSON(w, http.StatusOK, rr)
}

// handleDownloadDocument serves the compiled record to holders of a link
// signed by handleGetRequest.
func (s *Service) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var signedID string
	if err := s.cookie.Decode(downloadTokenName, r.URL.Query().Get("token"), &signedID); err != nil || signedID != id {
		s.renderError(w, r, http.StatusForbidden, "invalid or expired download link")
		return
	}

	view, err := s.orch.RecordRequestStatus(r.Context(), id)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	if view.Status != types.RecordRequestStatusComplete || view.CompiledDocumentKey == nil {
		s.renderError(w, r, http.StatusConflict, "record request is not complete")
		return
	}

	data, err := s.documents.Get(r.Context(), *view.CompiledDocumentKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		s.renderError(w, r, http.StatusNotFound, "compiled document missing")
		return
	}
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", storage.ContentTypePDF)
	w.Header().Set("Content-Disposition", `attachment; filename="medical-records-`+id+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.WithError(err).Warn("failed to write compiled document")
	}
}
