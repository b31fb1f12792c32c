package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/repository"
	"github.com/helixir/data-repository-service/internal/wire"
)

const maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies

// listParams holds the validated list parameters.
type listParams struct {
	Limit *int `validate:"omitempty,min=1,max=1000"`
}

// aggregateParams holds the validated aggregate body.
type aggregateParams struct {
	Pipeline []domain.Document `validate:"max=100"`
}

// userOptions returns the scoping option for the request, if any.
func userOptions(r *http.Request) []repository.Option {
	if userID := observability.UserIDFromContext(r.Context()); userID != "" {
		return []repository.Option{repository.WithUserID(userID)}
	}
	return nil
}

// decodeBody reads a size-limited JSON body into v, keeping numbers as json.Number.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		return domain.NewValidationError("body", "failed to read request body")
	}
	if len(body) > maxRequestBodySize {
		return domain.NewValidationError("body", fmt.Sprintf("request body exceeds %d bytes", maxRequestBodySize))
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON request body")
	}
	if dec.More() {
		return domain.NewValidationError("body", "unexpected data after JSON body")
	}
	return nil
}

// decodeDocument decodes a body that must be a JSON object.
func decodeDocument(r *http.Request) (domain.Document, error) {
	var doc domain.Document
	if err := decodeBody(r, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.NewValidationError("body", "request body must be a JSON object")
	}
	return doc, nil
}

// validationError turns validator failures into a *domain.ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.NewValidationError(fe.Field(), fmt.Sprintf("failed %q constraint (%s)", fe.Tag(), fe.Param()))
	}
	return domain.NewValidationError("request", err.Error())
}

// listCollections handles GET /api/v1/collections.
func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	writeData(r.Context(), w, http.StatusOK, s.registry.Names())
}

// createItem handles POST /{collection}/items.
func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := decodeDocument(r)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}

	created, err := repositoryFromContext(ctx).Create(ctx, doc, userOptions(r)...)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeData(ctx, w, http.StatusCreated, created)
}

// readItem handles GET /{collection}/items/{id}.
func (s *Server) readItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	item, err := repositoryFromContext(ctx).Read(ctx, chi.URLParam(r, "id"), userOptions(r)...)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeData(ctx, w, http.StatusOK, item)
}

// listItems handles GET /{collection}/items.
func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := wire.DecodeQuery(r.URL.Query())
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}

	params := listParams{}
	if q.Pagination != nil {
		params.Limit = q.Pagination.Limit
	}
	if err := s.validate.Struct(params); err != nil {
		writeDomainError(w, r, s.logger, validationError(err))
		return
	}

	opts := append(userOptions(r),
		repository.WithFilter(q.Filter),
		repository.WithPagination(q.Pagination),
		repository.WithSort(q.Sort...),
	)
	page, err := repositoryFromContext(ctx).ReadAll(ctx, opts...)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	if page.Items == nil {
		page.Items = []domain.Document{}
	}
	writeData(ctx, w, http.StatusOK, page)
}

// updateItem handles PUT /{collection}/items/{id}.
func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := decodeDocument(r)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}

	updated, err := repositoryFromContext(ctx).Update(ctx, chi.URLParam(r, "id"), doc, userOptions(r)...)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeData(ctx, w, http.StatusOK, updated)
}

// deleteItem handles DELETE /{collection}/items/{id}.
func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := repositoryFromContext(ctx).Delete(ctx, chi.URLParam(r, "id"), userOptions(r)...); err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// countItems handles GET /{collection}/count.
func (s *Server) countItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := wire.DecodeFilter(r.URL.Query().Get(wire.ParamFilter))
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}

	n, err := repositoryFromContext(ctx).Count(ctx, filter, userOptions(r)...)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	writeData(ctx, w, http.StatusOK, n)
}

// aggregateItems handles POST /{collection}/aggregate.
func (s *Server) aggregateItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req wire.AggregateRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	if err := s.validate.Struct(aggregateParams{Pipeline: req.Pipeline}); err != nil {
		writeDomainError(w, r, s.logger, validationError(err))
		return
	}

	docs, err := repositoryFromContext(ctx).Aggregate(ctx, req.Pipeline, userOptions(r)...)
	if err != nil {
		writeDomainError(w, r, s.logger, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeData(ctx, w, http.StatusOK, docs)
}
