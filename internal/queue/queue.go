// Package queue carries job descriptors from intake to workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned by Decode for bodies that do not describe a job.
var ErrMalformed = errors.New("malformed job descriptor")

// Message is one delivery. Handle is opaque and only valid for Delete.
type Message struct {
	Body   []byte
	Handle string
}

// Queue is an at-least-once job queue.
type Queue interface {
	// Receive waits up to wait for at most max messages. An empty batch is
	// not an error.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Delete acknowledges a message so it is never delivered again.
	Delete(ctx context.Context, handle string) error
	// Send enqueues a body.
	Send(ctx context.Context, body []byte) error
}

// Job is the descriptor a worker needs to execute one submission.
type Job struct {
	SubmissionID string `json:"submissionId"`
	Language     string `json:"language"`
	SourceKey    string `json:"sourceBlobKey"`
}

// Encode serializes a job for Send.
func Encode(j Job) ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a message body. The legacy field name s3Key is accepted in
// place of sourceBlobKey. On ErrMalformed the returned Job holds whatever
// fields could be read, so SubmissionID may still be set.
func Decode(body []byte) (Job, error) {
	var raw struct {
		Job
		S3Key string `json:"s3Key"`
	}
	err := json.Unmarshal(body, &raw)
	j := raw.Job
	if j.SourceKey == "" {
		j.SourceKey = raw.S3Key
	}
	if err != nil {
		return j, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if j.SubmissionID == "" {
		return j, fmt.Errorf("%w: missing submissionId", ErrMalformed)
	}
	return j, nil
}
