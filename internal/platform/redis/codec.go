package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/phrazzld/assay-api/internal/domain"
)

// Hash field names
const (
	fieldOwnerID          = "owner_id"
	fieldStatus           = "status"
	fieldProgress         = "progress"
	fieldResult           = "result"
	fieldError            = "error"
	fieldRetryCount       = "retry_count"
	fieldInputFilename    = "input_filename"
	fieldInputContentType = "input_content_type"
	fieldInputData        = "input_data"
	fieldCreatedAt        = "created_at"
	fieldUpdatedAt        = "updated_at"
	fieldExpiresAt        = "expires_at"
	fieldProcessingStart  = "processing_start_time"
	fieldProcessingEnd    = "processing_end_time"
)

func encode(rec *domain.TokenRecord) (map[string]any, error) {
	progress, err := json.Marshal(rec.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress: %w", err)
	}

	fields := map[string]any{
		fieldOwnerID:          rec.OwnerID,
		fieldStatus:           string(rec.Status),
		fieldProgress:         string(progress),
		fieldRetryCount:       rec.RetryCount,
		fieldInputFilename:    rec.Input.Filename,
		fieldInputContentType: rec.Input.ContentType,
		fieldInputData:        string(rec.Input.Data),
		fieldCreatedAt:        micros(rec.CreatedAt),
		fieldUpdatedAt:        micros(rec.UpdatedAt),
		fieldExpiresAt:        micros(rec.ExpiresAt),
	}
	if len(rec.Result) > 0 {
		fields[fieldResult] = string(rec.Result)
	}
	if rec.Error != nil {
		b, err := json.Marshal(rec.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to encode processing error: %w", err)
		}
		fields[fieldError] = string(b)
	}
	if rec.ProcessingStartTime != nil {
		fields[fieldProcessingStart] = micros(*rec.ProcessingStartTime)
	}
	if rec.ProcessingEndTime != nil {
		fields[fieldProcessingEnd] = micros(*rec.ProcessingEndTime)
	}
	return fields, nil
}

// clearedFields lists the optional fields absent from rec, which must be
// removed from the hash when writing it back.
func clearedFields(rec *domain.TokenRecord) []string {
	var out []string
	if len(rec.Result) == 0 {
		out = append(out, fieldResult)
	}
	if rec.Error == nil {
		out = append(out, fieldError)
	}
	if rec.ProcessingStartTime == nil {
		out = append(out, fieldProcessingStart)
	}
	if rec.ProcessingEndTime == nil {
		out = append(out, fieldProcessingEnd)
	}
	return out
}

func decode(token string, m map[string]string) (*domain.TokenRecord, error) {
	rec := &domain.TokenRecord{
		Token:   token,
		OwnerID: m[fieldOwnerID],
		Status:  domain.TokenStatus(m[fieldStatus]),
		Input: domain.Artifact{
			Filename:    m[fieldInputFilename],
			ContentType: m[fieldInputContentType],
			Data:        []byte(m[fieldInputData]),
		},
	}

	var err error
	if rec.RetryCount, err = strconv.Atoi(m[fieldRetryCount]); err != nil {
		return nil, fmt.Errorf("corrupt retry_count for token %s: %w", token, err)
	}
	for field, dst := range map[string]*time.Time{
		fieldCreatedAt: &rec.CreatedAt,
		fieldUpdatedAt: &rec.UpdatedAt,
		fieldExpiresAt: &rec.ExpiresAt,
	} {
		t, err := parseMicros(m[field])
		if err != nil {
			return nil, fmt.Errorf("corrupt %s for token %s: %w", field, token, err)
		}
		*dst = t
	}
	if err := json.Unmarshal([]byte(m[fieldProgress]), &rec.Progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	if v, ok := m[fieldResult]; ok && v != "" {
		rec.Result = domain.Result(v)
	}
	if v, ok := m[fieldError]; ok && v != "" {
		rec.Error = &domain.ProcessingError{}
		if err := json.Unmarshal([]byte(v), rec.Error); err != nil {
			return nil, fmt.Errorf("failed to decode processing error: %w", err)
		}
	}
	if v, ok := m[fieldProcessingStart]; ok {
		t, err := parseMicros(v)
		if err != nil {
			return nil, err
		}
		rec.ProcessingStartTime = &t
	}
	if v, ok := m[fieldProcessingEnd]; ok {
		t, err := parseMicros(v)
		if err != nil {
			return nil, err
		}
		rec.ProcessingEndTime = &t
	}
	return rec, nil
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseMicros(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(n).UTC(), nil
}
