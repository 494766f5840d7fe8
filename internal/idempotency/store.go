package idempotency

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/payment-escrow/internal/repository"
	"lukechampine.com/blake3"
)

// MaxKeyLen bounds the client supplied Idempotency-Key.
const MaxKeyLen = 128

var (
	ErrKeyRequired  = errors.New("idempotency key required")
	ErrKeyTooLong   = errors.New("idempotency key too long")
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key reused with a different request")
	ErrInProgress   = errors.New("idempotency key in progress")
)

// Request is one mutating call as seen by the store. Records are addressed by
// ScopedKey, so two principals never share a record even when they send the same key.
type Request struct {
	Principal string
	Key       string
	Method    string
	Path      string
	Body      []byte
}

func (r Request) Validate() error {
	switch {
	case r.Key == "":
		return ErrKeyRequired
	case len(r.Key) > MaxKeyLen:
		return ErrKeyTooLong
	}
	return nil
}

// ScopedKey derives the storage key from the principal and the client key.
func (r Request) ScopedKey() string {
	return digest(r.Principal, r.Key)
}

// Hash fingerprints what the call would do. A replay must match it exactly.
func (r Request) Hash() string {
	return digest(r.Method, r.Path, string(r.Body))
}

// digest length-prefixes each part so that ("ab","c") and ("a","bc") differ.
func digest(parts ...string) string {
	h := blake3.New(32, nil)
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Response is the outcome stored for replay.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
}

type Record struct {
	Key         string
	Principal   string
	RequestHash string
	Response
	// ServedBy names the tier that answered: "postgres" or "redis".
	ServedBy string
}

// Store persists reservations and finalized responses in Postgres and, when a
// cache is configured, serves replays from Redis.
type Store struct {
	db    repository.DBTX
	cache *Cache
	poll  time.Duration
}

func NewStore(cache *Cache, db repository.DBTX) *Store {
	return &Store{db: db, cache: cache, poll: 50 * time.Millisecond}
}

// Lookup returns the finalized record for req. It reports ErrNotFound for a fresh
// key, ErrInProgress while another call holds the reservation and ErrHashMismatch
// when the key was first used for a different request.
func (s *Store) Lookup(ctx context.Context, req Request) (*Record, error) {
	if rec, ok := s.cache.get(ctx, req.ScopedKey()); ok {
		if rec.RequestHash != req.Hash() {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := repository.New(s.db).GetIdempotencyKey(ctx, req.ScopedKey())
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != req.Hash() {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}
	rec := recordFromRow(row)
	s.cache.put(ctx, rec)
	return &rec, nil
}

// Reserve claims req's key. It returns false when another call already holds it.
func (s *Store) Reserve(ctx context.Context, req Request) (bool, error) {
	_, err := repository.New(s.db).ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: req.ScopedKey(),
		Principal:      req.Principal,
		RequestHash:    req.Hash(),
		Method:         req.Method,
		Path:           req.Path,
	})
	switch {
	case err == nil:
		return true, nil
	case repository.IsNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Finalize stores resp against the reservation held for req.
func (s *Store) Finalize(ctx context.Context, req Request, resp Response) (*Record, error) {
	row, err := repository.New(s.db).FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		IdempotencyKey: req.ScopedKey(),
		RequestHash:    req.Hash(),
		ResponseStatus: int32(resp.Status),
		ResponseBody:   resp.Body,
		ContentType:    resp.ContentType,
	})
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := recordFromRow(row)
	s.cache.put(ctx, rec)
	return &rec, nil
}

// Release drops an unfinished reservation so the client can retry under the same
// key. Finalized records are kept.
func (s *Store) Release(ctx context.Context, req Request) error {
	s.cache.drop(ctx, req.ScopedKey())
	if err := repository.New(s.db).ReleaseIdempotencyKey(ctx, req.ScopedKey(), req.Hash()); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Wait polls until the call holding req's reservation finalizes or ctx ends.
func (s *Store) Wait(ctx context.Context, req Request) (*Record, error) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, req)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func recordFromRow(row repository.IdempotencyKey) Record {
	return Record{
		Key:         row.IdempotencyKey,
		Principal:   row.Principal,
		RequestHash: row.RequestHash,
		Response: Response{
			Status:      int(row.ResponseStatus),
			Body:        row.ResponseBody,
			ContentType: row.ContentType,
		},
		ServedBy: "postgres",
	}
}
