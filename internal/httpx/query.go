package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PathUUID parses the named path wildcard as a UUID.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", ErrBadRequest, name)
	}
	return id, nil
}

// QueryUUID returns nil when the parameter is absent.
func QueryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s", ErrBadRequest, name)
	}
	return &id, nil
}

// QueryInt returns fallback when the parameter is absent.
func QueryInt(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrBadRequest, name)
	}
	return n, nil
}

// TimeRange reads the half-open [from, to) window from the query string.
// Both bounds accept RFC 3339 or YYYY-MM-DD. A missing "to" is now and a
// missing "from" is span before "to".
func TimeRange(r *http.Request, span time.Duration, now time.Time) (from, to time.Time, err error) {
	q := r.URL.Query()
	to = now.UTC()
	if v := q.Get("to"); v != "" {
		if to, err = parseTime(v); err != nil {
			return from, to, fmt.Errorf("%w: invalid to", ErrBadRequest)
		}
	}
	from = to.Add(-span)
	if v := q.Get("from"); v != "" {
		if from, err = parseTime(v); err != nil {
			return from, to, fmt.Errorf("%w: invalid from", ErrBadRequest)
		}
	}
	return from, to, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}
