package devapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrRefreshTokenInvalid is returned for unknown or expired refresh tokens.
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid")
	// ErrRefreshTokenReused is returned when an already rotated or revoked
	// token is presented again. Its whole family is revoked.
	ErrRefreshTokenReused = errors.New("refresh token was already used")
)

// RefreshRecord is the stored form of an issued refresh token. Only the hash
// of the token is kept.
type RefreshRecord struct {
	Hash       string    `bson:"_id" json:"-"`
	UserID     string    `bson:"user_id" json:"user_id"`
	FamilyID   string    `bson:"family_id" json:"family_id"`
	ExpiresAt  time.Time `bson:"expires_at" json:"expires_at"`
	Revoked    bool      `bson:"revoked" json:"revoked"`
	ReplacedBy string    `bson:"replaced_by,omitempty" json:"replaced_by,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// RefreshStore issues opaque refresh tokens and rotates them on every use.
type RefreshStore interface {
	// Issue starts a new token family for userID.
	Issue(ctx context.Context, userID string) (string, error)
	// Rotate consumes token and returns its owner and the replacement token.
	Rotate(ctx context.Context, token string) (userID, next string, err error)
	// Revoke invalidates token. Unknown tokens are ignored.
	Revoke(ctx context.Context, token string) error
}

func newRecord(userID, familyID string, now time.Time, ttl time.Duration) (string, RefreshRecord, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", RefreshRecord{}, err
	}
	return token, RefreshRecord{
		Hash:      hashToken(token),
		UserID:    userID,
		FamilyID:  familyID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

// =============================================================================
// MongoDB Implementation of RefreshStore
// =============================================================================

type MongoRefreshStore struct {
	tokens *mongo.Collection
	ttl    time.Duration
	now    func() time.Time
}

var _ RefreshStore = (*MongoRefreshStore)(nil)

func NewMongoRefreshStore(coll *mongo.Collection, ttl time.Duration) *MongoRefreshStore {
	return &MongoRefreshStore{tokens: coll, ttl: ttl, now: time.Now}
}

// EnsureIndexes lets MongoDB expire records and indexes token families.
func (s *MongoRefreshStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
		},
		{
			Keys:    bson.D{{Key: "family_id", Value: 1}},
			Options: options.Index().SetName("family_id"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create refresh token indexes: %w", err)
	}
	return nil
}

func (s *MongoRefreshStore) Issue(ctx context.Context, userID string) (string, error) {
	token, rec, err := newRecord(userID, uuid.NewString(), s.now().UTC(), s.ttl)
	if err != nil {
		return "", err
	}
	if _, err := s.tokens.InsertOne(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return token, nil
}

func (s *MongoRefreshStore) Rotate(ctx context.Context, token string) (string, string, error) {
	hash := hashToken(token)
	var rec RefreshRecord
	err := s.tokens.FindOne(ctx, bson.M{"_id": hash}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", "", ErrRefreshTokenInvalid
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load refresh token: %w", err)
	}
	if rec.Revoked {
		return "", "", s.revokeFamily(ctx, rec.FamilyID)
	}
	now := s.now().UTC()
	if !now.Before(rec.ExpiresAt) {
		return "", "", ErrRefreshTokenInvalid
	}

	next, nextRec, err := newRecord(rec.UserID, rec.FamilyID, now, s.ttl)
	if err != nil {
		return "", "", err
	}
	res, err := s.tokens.UpdateOne(ctx,
		bson.M{"_id": hash, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "replaced_by": nextRec.Hash}},
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		// Lost a race against another rotation of the same token.
		return "", "", s.revokeFamily(ctx, rec.FamilyID)
	}
	if _, err := s.tokens.InsertOne(ctx, nextRec); err != nil {
		return "", "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return rec.UserID, next, nil
}

func (s *MongoRefreshStore) Revoke(ctx context.Context, token string) error {
	_, err := s.tokens.UpdateOne(ctx,
		bson.M{"_id": hashToken(token)},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *MongoRefreshStore) revokeFamily(ctx context.Context, familyID string) error {
	if _, err := s.tokens.UpdateMany(ctx,
		bson.M{"family_id": familyID},
		bson.M{"$set": bson.M{"revoked": true}},
	); err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}
	return ErrRefreshTokenReused
}

// =============================================================================
// In-memory Implementation of RefreshStore
// =============================================================================

type MemoryRefreshStore struct {
	mu      sync.Mutex
	records map[string]RefreshRecord
	ttl     time.Duration
	now     func() time.Time
}

var _ RefreshStore = (*MemoryRefreshStore)(nil)

func NewMemoryRefreshStore(ttl time.Duration) *MemoryRefreshStore {
	return &MemoryRefreshStore{records: map[string]RefreshRecord{}, ttl: ttl, now: time.Now}
}

func (s *MemoryRefreshStore) Issue(_ context.Context, userID string) (string, error) {
	token, rec, err := newRecord(userID, uuid.NewString(), s.now().UTC(), s.ttl)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Hash] = rec
	return token, nil
}

func (s *MemoryRefreshStore) Rotate(_ context.Context, token string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hashToken(token)]
	if !ok {
		return "", "", ErrRefreshTokenInvalid
	}
	if rec.Revoked {
		for h, r := range s.records {
			if r.FamilyID == rec.FamilyID {
				r.Revoked = true
				s.records[h] = r
			}
		}
		return "", "", ErrRefreshTokenReused
	}
	now := s.now().UTC()
	if !now.Before(rec.ExpiresAt) {
		return "", "", ErrRefreshTokenInvalid
	}
	next, nextRec, err := newRecord(rec.UserID, rec.FamilyID, now, s.ttl)
	if err != nil {
		return "", "", err
	}
	rec.Revoked = true
	rec.ReplacedBy = nextRec.Hash
	s.records[rec.Hash] = rec
	s.records[nextRec.Hash] = nextRec
	return rec.UserID, next, nil
}

func (s *MemoryRefreshStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := hashToken(token)
	if rec, ok := s.records[h]; ok {
		rec.Revoked = true
		s.records[h] = rec
	}
	return nil
}

// =============================================================================
// Mock
// =============================================================================

// MockRefreshStore provides customizable hooks for testing RefreshStore
// consumers.
type MockRefreshStore struct {
	IssueFunc  func(ctx context.Context, userID string) (string, error)
	RotateFunc func(ctx context.Context, token string) (string, string, error)
	RevokeFunc func(ctx context.Context, token string) error
}

var _ RefreshStore = (*MockRefreshStore)(nil)

func (m *MockRefreshStore) Issue(ctx context.Context, userID string) (string, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, userID)
	}
	return "mock-refresh-" + userID, nil
}

func (m *MockRefreshStore) Rotate(ctx context.Context, token string) (string, string, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, token)
	}
	return "", "", ErrRefreshTokenInvalid
}

func (m *MockRefreshStore) Revoke(ctx context.Context, token string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, token)
	}
	return nil
}
