package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/assay-api/internal/api/shared"
	"github.com/phrazzld/assay-api/internal/domain"
)

const (
	// multipartOverhead is the allowance for part headers and boundaries on
	// top of the artifact limit.
	multipartOverhead = 64 << 10

	// multipartMemory is the in-memory buffer for parsed multipart forms.
	multipartMemory = 8 << 20

	tokenParam = "token"
)

// getPathToken extracts the token from the URL path.
func getPathToken(r *http.Request) (string, error) {
	token := strings.TrimSpace(chi.URLParam(r, tokenParam))
	if token == "" {
		return "", domain.ErrEmptyToken
	}
	return token, nil
}

// resolveOwner prefers the authenticated subject over a client-supplied id.
func resolveOwner(r *http.Request, claimed string) (string, error) {
	if owner, ok := shared.GetOwnerID(r.Context()); ok {
		return owner, nil
	}
	owner := strings.TrimSpace(claimed)
	if owner == "" {
		return "", ErrOwnerRequired
	}
	return owner, nil
}

// readSubmission decodes either a multipart or a JSON submission into an
// artifact and the owner id the client claimed.
func readSubmission(w http.ResponseWriter, r *http.Request, maxUpload int64) (domain.Artifact, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return domain.Artifact{}, "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, r.Header.Get("Content-Type"))
	}

	switch mediaType {
	case "multipart/form-data":
		return readMultipart(w, r, maxUpload)
	case "application/json":
		return readJSON(w, r, maxUpload)
	default:
		return domain.Artifact{}, "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
}

func readMultipart(w http.ResponseWriter, r *http.Request, maxUpload int64) (domain.Artifact, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return domain.Artifact{}, "", fmt.Errorf("%w: multipart form: %w", ErrInvalidRequest, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return domain.Artifact{}, "", ErrMissingFile
	}
	if err != nil {
		return domain.Artifact{}, "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUpload+1))
	if err != nil {
		return domain.Artifact{}, "", fmt.Errorf("failed to read uploaded file: %w", err)
	}
	if int64(len(data)) > maxUpload {
		return domain.Artifact{}, "", ErrUploadTooLarge
	}

	artifact := domain.Artifact{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if artifact.ContentType == "" || artifact.ContentType == "application/octet-stream" {
		artifact.ContentType = http.DetectContentType(data)
	}
	return artifact, r.FormValue("owner_id"), nil
}

func readJSON(w http.ResponseWriter, r *http.Request, maxUpload int64) (domain.Artifact, string, error) {
	// base64 inflates the payload by 4/3; leave room for the other fields.
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload*4/3+multipartOverhead)

	var req SubmitTokenRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		return domain.Artifact{}, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := shared.ValidateRequest(req); err != nil {
		return domain.Artifact{}, "", err
	}
	if int64(len(req.Content)) > maxUpload {
		return domain.Artifact{}, "", ErrUploadTooLarge
	}

	artifact := domain.Artifact{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Data:        req.Content,
	}
	if artifact.ContentType == "" && len(artifact.Data) > 0 {
		artifact.ContentType = http.DetectContentType(artifact.Data)
	}
	return artifact, req.OwnerID, nil
}
