package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrAccountExists = errors.New("account with this email already exists")
)

// =============================================================================
// Database Interface
// =============================================================================

// Store defines account storage operations.
type Store interface {
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	UpdateAccount(ctx context.Context, account *Account) error
	DeleteAccount(ctx context.Context, id string) error

	// CompleteOnboarding sets the onboarding flag matching the account role
	// and returns the updated account.
	CompleteOnboarding(ctx context.Context, id string) (*Account, error)
	SetLocked(ctx context.Context, id string, locked bool) error
	SetExpired(ctx context.Context, id string, expired bool) error
}

// NormalizeEmail lower-cases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// MongoDB Implementation of Store
// =============================================================================

// MongoDBStore implements the Store interface using MongoDB.
type MongoDBStore struct {
	accounts *mongo.Collection
}

var _ Store = (*MongoDBStore)(nil)

// NewMongoDBStore creates a new MongoDBStore instance.
func NewMongoDBStore(client *mongo.Client, dbName, collectionName string) *MongoDBStore {
	return &MongoDBStore{accounts: client.Database(dbName).Collection(collectionName)}
}

// EnsureIndexes creates the unique email index.
func (m *MongoDBStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create account indexes: %w", err)
	}
	return nil
}

// GetAccountByID retrieves an account by its ID.
func (m *MongoDBStore) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

// GetAccountByEmail retrieves an account by its email.
func (m *MongoDBStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return m.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (m *MongoDBStore) findOne(ctx context.Context, filter bson.M) (*Account, error) {
	var account Account
	err := m.accounts.FindOne(ctx, filter).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// CreateAccount inserts a new account, assigning its ID.
func (m *MongoDBStore) CreateAccount(ctx context.Context, account *Account) error {
	account.ID = uuid.NewString()
	account.Email = NormalizeEmail(account.Email)
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt
	_, err := m.accounts.InsertOne(ctx, account)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateAccount replaces an existing account.
func (m *MongoDBStore) UpdateAccount(ctx context.Context, account *Account) error {
	account.UpdatedAt = time.Now().UTC()
	res, err := m.accounts.ReplaceOne(ctx, bson.M{"_id": account.ID}, account)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteAccount deletes an account by its ID.
func (m *MongoDBStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := m.accounts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (m *MongoDBStore) CompleteOnboarding(ctx context.Context, id string) (*Account, error) {
	account, err := m.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	field, ok := onboardingField(account.Role)
	if !ok {
		return account, nil
	}
	if err := m.setFlag(ctx, id, field, true); err != nil {
		return nil, err
	}
	account.markOnboarded()
	return account, nil
}

func (m *MongoDBStore) SetLocked(ctx context.Context, id string, locked bool) error {
	return m.setFlag(ctx, id, "account_locked", locked)
}

func (m *MongoDBStore) SetExpired(ctx context.Context, id string, expired bool) error {
	return m.setFlag(ctx, id, "account_expired", expired)
}

func (m *MongoDBStore) setFlag(ctx context.Context, id, field string, value bool) error {
	update := bson.M{"$set": bson.M{field: value, "updated_at": time.Now().UTC()}}
	res, err := m.accounts.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", field, err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}
