// Package trigger turns object-created notifications into workflow
// executions.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Event identifies a newly created object.
type Event struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

type eventEnvelope struct {
	Bucket    json.RawMessage `json:"bucket"`
	ObjectKey string          `json:"object_key"`
	Key       string          `json:"key"`

	// EventBridge "Object Created" shape.
	Detail *struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"detail"`

	// S3 notification shape; keys arrive URL-encoded.
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseEvent accepts a flat {"bucket","object_key"} body, an EventBridge
// object-created event, or an S3 notification with a single record.
func ParseEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	var ev Event
	switch {
	case env.Detail != nil:
		ev = Event{Bucket: env.Detail.Bucket.Name, ObjectKey: env.Detail.Object.Key}
	case len(env.Records) > 0:
		rec := env.Records[0].S3
		key, err := url.QueryUnescape(rec.Object.Key)
		if err != nil {
			return Event{}, fmt.Errorf("decode object key: %w", err)
		}
		ev = Event{Bucket: rec.Bucket.Name, ObjectKey: key}
	default:
		if len(env.Bucket) > 0 {
			if err := json.Unmarshal(env.Bucket, &ev.Bucket); err != nil {
				return Event{}, fmt.Errorf("bucket must be a string: %w", err)
			}
		}
		ev.ObjectKey = env.ObjectKey
		if ev.ObjectKey == "" {
			ev.ObjectKey = env.Key
		}
	}

	if ev.Bucket == "" || ev.ObjectKey == "" {
		return Event{}, errors.New("event must name a bucket and an object key")
	}
	return ev, nil
}
