package shadowmesh

import (
	"context"
	"errors"

	"github.com/shadowmesh/shadowmesh/credential"
	"github.com/shadowmesh/shadowmesh/password"
)

// RegisterAdmin provisions an admin credential record with an adaptive
// hash. The identifier must not already exist.
func (e *Engine) RegisterAdmin(ctx context.Context, email, passwordPlain string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	email = normalizeIdentifier(email)

	if err := password.ValidatePolicy(passwordPlain); err != nil {
		return ErrWeakPassword
	}
	hash, err := e.adminHash.Hash(passwordPlain)
	if err != nil {
		return ErrStorageUnavailable
	}
	return e.putNew(ctx, &credential.Record{
		Identifier:   email,
		Class:        credential.ClassAdmin,
		PasswordHash: hash,
	})
}

// RegisterMember provisions a member credential record with the
// deterministic digest scheme.
func (e *Engine) RegisterMember(ctx context.Context, memberID, passwordPlain string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	memberID = normalizeIdentifier(memberID)

	if err := password.ValidatePolicy(passwordPlain); err != nil {
		return ErrWeakPassword
	}
	return e.putNew(ctx, &credential.Record{
		Identifier:   memberID,
		Class:        credential.ClassMember,
		PasswordHash: e.memberHash.Digest(memberID, passwordPlain),
	})
}

func (e *Engine) putNew(ctx context.Context, record *credential.Record) error {
	_, err := e.store.Get(ctx, record.Identifier)
	if err == nil {
		return credential.ErrConflict
	}
	if !errors.Is(err, credential.ErrNotFound) {
		return ErrStorageUnavailable
	}
	if err := e.store.Put(ctx, record); err != nil {
		return ErrStorageUnavailable
	}
	return nil
}
