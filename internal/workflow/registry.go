package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// StatusRow mirrors one row of the mst_approval_status lookup table.
type StatusRow struct {
	Code     int
	Key      string
	Label    string
	IsActive bool
}

// StatusSource loads lookup rows, typically from Postgres.
type StatusSource interface {
	ListApprovalStatuses(ctx context.Context) ([]StatusRow, error)
}

// ErrUnknownStatusCode is returned when a persisted code has no mapping.
var ErrUnknownStatusCode = errors.New("workflow: unknown status code")

// Registry maps persisted status codes to the closed Status enumeration.
// It is built once at startup and read-only afterwards.
type Registry struct {
	byCode   map[int]Status
	byStatus map[Status]int
	labels   map[Status]string
}

// LoadRegistry reads the lookup table and validates it against KnownStatuses.
// Any missing, duplicated or unrecognised active key fails the load.
func LoadRegistry(ctx context.Context, src StatusSource) (*Registry, error) {
	rows, err := src.ListApprovalStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: load approval statuses: %w", err)
	}
	return NewRegistry(rows)
}

// NewRegistry builds a registry from already loaded rows.
func NewRegistry(rows []StatusRow) (*Registry, error) {
	reg := &Registry{
		byCode:   make(map[int]Status, len(rows)),
		byStatus: make(map[Status]int, len(rows)),
		labels:   make(map[Status]string, len(rows)),
	}
	var unknown []string
	for _, row := range rows {
		status := Status(strings.TrimSpace(row.Key))
		if !status.Valid() {
			if row.IsActive {
				unknown = append(unknown, fmt.Sprintf("%d=%s", row.Code, row.Key))
			}
			continue
		}
		if _, dup := reg.byCode[row.Code]; dup {
			return nil, fmt.Errorf("workflow: duplicate status code %d", row.Code)
		}
		if _, dup := reg.byStatus[status]; dup {
			return nil, fmt.Errorf("workflow: duplicate status key %s", status)
		}
		reg.byCode[row.Code] = status
		reg.byStatus[status] = row.Code
		reg.labels[status] = row.Label
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("workflow: unrecognised status rows: %s", strings.Join(unknown, ", "))
	}
	var missing []string
	for _, status := range KnownStatuses() {
		if _, ok := reg.byStatus[status]; !ok {
			missing = append(missing, string(status))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("workflow: lookup table lacks statuses: %s", strings.Join(missing, ", "))
	}
	return reg, nil
}

// Decode converts a persisted code into a Status.
func (r *Registry) Decode(code int) (Status, error) {
	status, ok := r.byCode[code]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownStatusCode, code)
	}
	return status, nil
}

// Code converts a Status into its persisted code.
func (r *Registry) Code(status Status) (int, error) {
	code, ok := r.byStatus[status]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}
	return code, nil
}

// Label returns the human label for the status, falling back to the key.
func (r *Registry) Label(status Status) string {
	if label, ok := r.labels[status]; ok && label != "" {
		return label
	}
	return string(status)
}
