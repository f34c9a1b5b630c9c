package users

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepository struct {
	byEmail map[string]*User
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byEmail: make(map[string]*User)}
}

func (f *fakeRepository) Create(_ context.Context, user *User) error {
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeRepository) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	return f.byEmail[email], nil
}

func (f *fakeRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	_, ok := f.byEmail[email]
	return ok, nil
}

func TestService_CreateNormalizesEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	user, err := svc.Create(context.Background(), "  Alice@Example.COM ", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, user.CreatedAt, user.UpdatedAt)
}

func TestService_LookupsIgnoreEmailCasing(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo)

	created, err := svc.Create(context.Background(), "bob@example.com", "hash")
	require.NoError(t, err)

	found, err := svc.GetByEmail(context.Background(), "BOB@example.COM")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	exists, err := svc.ExistsByEmail(context.Background(), " Bob@Example.com ")
	require.NoError(t, err)
	assert.True(t, exists)
}
