package server

import (
	"net/http"
	"strings"

	"medrecords/pkg/types"
)

func (s *Service) handleFailProviderRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload")
		return
	}

	var f types.FailProviderRequestForm
	if err := decoder.Decode(&f, r.PostForm); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload")
		return
	}

	pr, err := s.orch.MarkFailed(r.Context(), r.PathValue("id"), strings.TrimSpace(f.Reason))
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.renderJSON(w, http.StatusOK, pr)
}

func (s *Service) handleRedispatch(w http.ResponseWriter, r *http.Request) {
	pr, err := s.orch.Redispatch(r.Context(), r.PathValue("id"))
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.renderJSON(w, http.StatusOK, pr)
}

func (s *Service) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	docs, err := s.orch.UnmatchedDocuments(r.Context())
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*types.InboundDocument{}
	}

	s.renderJSON(w, http.StatusOK, docs)
}

func (s *Service) handleAssignDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload")
		return
	}

	var f types.AssignInboundDocumentForm
	if err := decoder.Decode(&f, r.PostForm); err != nil || strings.TrimSpace(f.ProviderRequestID) == "" {
		s.renderError(w, r, http.StatusBadRequest, "provider_request_id is required")
		return
	}

	pr, err := s.orch.AssignDocument(r.Context(), r.PathValue("id"), strings.TrimSpace(f.ProviderRequestID))
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.renderJSON(w, http.StatusOK, pr)
}

func (s *Service) handleRematch(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.orch.MatchDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.renderJSON(w, http.StatusOK, outcome)
}

func (s *Service) handleFollowUps(w http.ResponseWriter, r *http.Request) {
	views, err := s.orch.FollowUps(r.Context())
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	if views == nil {
		views = []*types.RecordRequestView{}
	}

	s.renderJSON(w, http.StatusOK, views)
}
