// Package upsert implements update-if-exists-else-create keyed by
// idempotency key rather than by remote id.
package upsert

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hyperengineering/vitalsync/internal/transport"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// RemoteList is the subset of the remote list store the protocol needs.
// FindByKey returns nil when no record carries the key.
type RemoteList interface {
	FindByKey(ctx context.Context, key string) (*types.RemoteRef, error)
	Create(ctx context.Context, record types.RemoteRecord) (types.RemoteRef, error)
	Update(ctx context.Context, ref types.RemoteRef, record types.RemoteRecord) (types.RemoteRef, error)
}

// ErrConflictUnresolved is reported when a 412 could not be resolved to an
// existing record.
var ErrConflictUnresolved = errors.New("conflict: no record found on re-resolve")

// Upserter runs the idempotent upsert protocol against a RemoteList.
type Upserter struct {
	remote RemoteList
}

// New creates an Upserter.
func New(remote RemoteList) *Upserter {
	return &Upserter{remote: remote}
}

// UpsertOne writes record under key. An existing record with the key is
// updated; otherwise a new one is created. A precondition failure triggers
// one re-resolve and update. A backend "already exists" rejection counts as
// success. The returned result never panics on failure; errors are
// reported in the result.
func (u *Upserter) UpsertOne(ctx context.Context, key string, record types.RemoteRecord) types.UpsertResult {
	record.IdempotencyKey = key
	res := types.UpsertResult{Attempts: 1}

	ref, err := u.remote.FindByKey(ctx, key)
	if err != nil {
		return failed(ctx, res, err)
	}

	var written types.RemoteRef
	if ref != nil {
		written, err = u.remote.Update(ctx, *ref, record)
		if err == nil {
			res.OK, res.Created, res.RemoteID = true, false, firstNonEmpty(written.ID, ref.ID)
			return res
		}
	} else {
		written, err = u.remote.Create(ctx, record)
		if err == nil {
			res.OK, res.Created, res.RemoteID = true, true, written.ID
			return res
		}
	}

	if transport.StatusOf(err) == http.StatusPreconditionFailed {
		res.Attempts++
		slog.Debug("version conflict, re-resolving",
			"component", "upsert",
			"idempotency_key", key,
		)
		fresh, ferr := u.remote.FindByKey(ctx, key)
		if ferr != nil {
			return failed(ctx, res, ferr)
		}
		if fresh == nil {
			res.Status = http.StatusPreconditionFailed
			res.Error = ErrConflictUnresolved.Error()
			return res
		}
		written, err = u.remote.Update(ctx, *fresh, record)
		if err == nil {
			res.OK, res.Created, res.RemoteID = true, false, firstNonEmpty(written.ID, fresh.ID)
			return res
		}
	}

	if isAlreadyExists(err) {
		res.OK, res.Created = true, false
		return res
	}
	return failed(ctx, res, err)
}

func failed(ctx context.Context, res types.UpsertResult, err error) types.UpsertResult {
	res.OK = false
	res.Canceled = ctx.Err() != nil
	res.Status = transport.StatusOf(err)
	res.Error = err.Error()
	return res
}

// isAlreadyExists reports whether err is the backend's signal that the
// record was already written.
func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
