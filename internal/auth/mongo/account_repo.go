// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

// Package mongo implements auth.AccountRepository on MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/taskboard/taskboard/internal/auth"
)

// CollectionName is the collection holding account documents.
const CollectionName = "users"

// accountDocument is the stored shape of an account. Reset fields live on
// the account document and are removed once consumed or expired.
type accountDocument struct {
	ID                  string     `bson:"_id"`
	Username            string     `bson:"username"`
	Email               string     `bson:"email"`
	EmailKey            string     `bson:"email_key"`
	PasswordHash        string     `bson:"password_hash"`
	ResetTokenHash      string     `bson:"reset_token_hash,omitempty"`
	ResetTokenExpiresAt *time.Time `bson:"reset_token_expires_at,omitempty"`
	FailedAttempts      int        `bson:"failed_attempts"`
	LockedUntil         *time.Time `bson:"locked_until,omitempty"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

// AccountRepository implements auth.AccountRepository using MongoDB.
type AccountRepository struct {
	client *driver.Client
	col    *driver.Collection
	now    func() time.Time
}

// NewAccountRepository returns a repository over db.users and ensures its
// indexes exist.
func NewAccountRepository(ctx context.Context, db *driver.Database) (*AccountRepository, error) {
	r := &AccountRepository{
		client: db.Client(),
		col:    db.Collection(CollectionName),
		now:    time.Now,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *AccountRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []driver.IndexModel{
		{
			Keys:    bson.D{{Key: "email_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_key_unique"),
		},
		{
			Keys:    bson.D{{Key: "reset_token_hash", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("reset_token_hash"),
		},
		{
			Keys:    bson.D{{Key: "reset_token_expires_at", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("reset_token_expires_at"),
		},
	})
	if err != nil {
		return oops.Code("ACCOUNT_INDEX_FAILED").
			With("collection", CollectionName).
			Wrap(err)
	}
	return nil
}

// Create stores a new account. The unique email_key index decides races
// between concurrent registrations.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	if _, err := r.col.InsertOne(ctx, toDocument(account)); err != nil {
		if driver.IsDuplicateKeyError(err) {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").
				With("email", auth.EmailKey(account.Email)).
				Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()}, "id", id.String())
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	key := auth.EmailKey(email)
	return r.findOne(ctx, bson.M{"email_key": key}, "email", key)
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M, key, value string) (*auth.Account, error) {
	var doc accountDocument
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by "+key).
			With(key, value).
			Wrap(err)
	}
	return fromDocument(&doc)
}

// UpdatePasswordHash replaces only the password hash.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.updateByID(ctx, id, "update password hash", bson.M{
		"$set": bson.M{"password_hash": passwordHash, "updated_at": r.now().UTC()},
	})
}

// UpdateLoginState records the failure counter and lockout.
func (r *AccountRepository) UpdateLoginState(ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time) error {
	return r.updateByID(ctx, id, "update login state", loginStateUpdate(failedAttempts, lockedUntil, r.now()))
}

// RecordLoginFailure increments failed_attempts with one findAndModify
// pipeline so the lockout check sees the incremented value.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id ulid.ULID, threshold int, lockUntil time.Time) (int, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"failed_attempts": 1})

	var doc struct {
		FailedAttempts int `bson:"failed_attempts"`
	}
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id.String()},
		failureUpdate(threshold, lockUntil, r.now()), opts).Decode(&doc)
	if errors.Is(err, driver.ErrNoDocuments) {
		return 0, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "record login failure").
			With("id", id.String()).
			Wrap(err)
	}
	return doc.FailedAttempts, nil
}

// SetResetToken stores a pending reset, replacing any previous one.
func (r *AccountRepository) SetResetToken(ctx context.Context, id ulid.ULID, reset auth.PendingReset) error {
	return r.updateByID(ctx, id, "set reset token", bson.M{
		"$set": bson.M{
			"reset_token_hash":       reset.TokenHash,
			"reset_token_expires_at": reset.ExpiresAt.UTC(),
			"updated_at":             r.now().UTC(),
		},
	})
}

func (r *AccountRepository) updateByID(ctx context.Context, id ulid.ULID, operation string, update bson.M) error {
	result, err := r.col.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// ConsumeResetToken swaps the password for a live reset token with a single
// findAndModify, so only one concurrent caller can match the document.
func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*auth.Account, error) {
	filter := bson.M{
		"reset_token_hash":       tokenHash,
		"reset_token_expires_at": bson.M{"$gt": now.UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc accountDocument
	err := r.col.FindOneAndUpdate(ctx, filter, consumeUpdate(passwordHash, now), opts).Decode(&doc)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, oops.Code("RESET_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_CONSUME_RESET_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return fromDocument(&doc)
}

// ClearExpiredResetTokens removes resets that expired at or before now.
func (r *AccountRepository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.col.UpdateMany(ctx,
		bson.M{"reset_token_expires_at": bson.M{"$lte": now.UTC()}},
		bson.M{"$unset": bson.M{"reset_token_hash": "", "reset_token_expires_at": ""}},
	)
	if err != nil {
		return 0, oops.Code("ACCOUNT_CLEAR_RESETS_FAILED").
			With("operation", "clear expired reset tokens").
			Wrap(err)
	}
	return result.ModifiedCount, nil
}

// Ping checks that the primary is reachable.
func (r *AccountRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return oops.Code("ACCOUNT_STORE_UNAVAILABLE").With("store", "mongo").Wrap(err)
	}
	return nil
}

func loginStateUpdate(failedAttempts int, lockedUntil *time.Time, now time.Time) bson.M {
	set := bson.M{"failed_attempts": failedAttempts, "updated_at": now.UTC()}
	if lockedUntil == nil {
		return bson.M{"$set": set, "$unset": bson.M{"locked_until": ""}}
	}
	set["locked_until"] = lockedUntil.UTC()
	return bson.M{"$set": set}
}

func failureUpdate(threshold int, lockUntil, now time.Time) bson.A {
	locked := bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$gt": bson.A{threshold, 0}},
			bson.M{"$gte": bson.A{"$failed_attempts", threshold}},
		}},
		lockUntil.UTC(),
		"$locked_until",
	}}
	return bson.A{
		bson.M{"$set": bson.M{
			"failed_attempts": bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$failed_attempts", 0}}, 1}},
			"updated_at":      now.UTC(),
		}},
		bson.M{"$set": bson.M{"locked_until": locked}},
	}
}

func consumeUpdate(passwordHash string, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"password_hash":   passwordHash,
			"failed_attempts": 0,
			"updated_at":      now.UTC(),
		},
		"$unset": bson.M{
			"reset_token_hash":       "",
			"reset_token_expires_at": "",
			"locked_until":           "",
		},
	}
}

func toDocument(a *auth.Account) *accountDocument {
	doc := &accountDocument{
		ID:             a.ID.String(),
		Username:       a.Username,
		Email:          a.Email,
		EmailKey:       auth.EmailKey(a.Email),
		PasswordHash:   a.PasswordHash,
		FailedAttempts: a.FailedAttempts,
		LockedUntil:    utc(a.LockedUntil),
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}
	if a.Reset != nil {
		doc.ResetTokenHash = a.Reset.TokenHash
		expires := a.Reset.ExpiresAt.UTC()
		doc.ResetTokenExpiresAt = &expires
	}
	return doc
}

func fromDocument(doc *accountDocument) (*auth.Account, error) {
	id, err := ulid.Parse(doc.ID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", doc.ID).
			Wrap(err)
	}
	account := &auth.Account{
		ID:             id,
		Username:       doc.Username,
		Email:          doc.Email,
		PasswordHash:   doc.PasswordHash,
		FailedAttempts: doc.FailedAttempts,
		LockedUntil:    doc.LockedUntil,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.ResetTokenHash != "" && doc.ResetTokenExpiresAt != nil {
		account.Reset = &auth.PendingReset{TokenHash: doc.ResetTokenHash, ExpiresAt: *doc.ResetTokenExpiresAt}
	}
	return account, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
