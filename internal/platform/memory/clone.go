package memory

import (
	"errors"
	"maps"

	"github.com/phrazzld/assay-api/internal/domain"
)

var errClosed = errors.New("memory store closed")

func cloneRecord(r *domain.TokenRecord) *domain.TokenRecord {
	c := *r
	c.Input = copyArtifact(r.Input)
	if r.Result != nil {
		c.Result = append(domain.Result(nil), r.Result...)
	}
	if r.Error != nil {
		e := *r.Error
		e.Details = maps.Clone(r.Error.Details)
		c.Error = &e
	}
	if r.ProcessingStartTime != nil {
		t := *r.ProcessingStartTime
		c.ProcessingStartTime = &t
	}
	if r.ProcessingEndTime != nil {
		t := *r.ProcessingEndTime
		c.ProcessingEndTime = &t
	}
	return &c
}

func copyArtifact(a domain.Artifact) domain.Artifact {
	a.Data = append([]byte(nil), a.Data...)
	return a
}
