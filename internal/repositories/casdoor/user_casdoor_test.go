package casdoor

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
)

type fakeDirectory struct {
	users map[string]*casdoorsdk.User
	calls int
}

func (f *fakeDirectory) GetUserByUserId(userId string) (*casdoorsdk.User, error) {
	f.calls++
	return f.users[userId], nil
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]*casdoorsdk.User{
		"s1": {Id: "s1", DisplayName: "Student One", Type: "normal-user"},
		"t1": {Id: "t1", DisplayName: "Teacher", Roles: []*casdoorsdk.Role{{Name: "teacher"}}},
		"a1": {Id: "a1", DisplayName: "Root", IsAdmin: true},
	}}
}

func TestMapCasdoorRole(t *testing.T) {
	tests := []struct {
		name string
		want models.UserRole
	}{
		{"admin", models.RoleAdmin},
		{"Administrator", models.RoleAdmin},
		{"instructor", models.RoleTeacher},
		{"TEACHER", models.RoleTeacher},
		{"proctor", models.RoleStudent},
		{"", models.RoleStudent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapCasdoorRole(tt.name); got != tt.want {
				t.Errorf("MapCasdoorRole(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestUserCasdoor_HasRole(t *testing.T) {
	repo := newUserCasdoor(newFakeDirectory(), cache.NewCacheManager(nil).User)
	ctx := context.Background()

	tests := []struct {
		id   string
		role models.UserRole
		want bool
	}{
		{"s1", models.RoleStudent, true},
		{"s1", models.RoleTeacher, false},
		{"t1", models.RoleTeacher, true},
		{"a1", models.RoleTeacher, true},
		{"a1", models.RoleAdmin, true},
		{"missing", models.RoleStudent, false},
	}
	for _, tt := range tests {
		got, err := repo.HasRole(ctx, tt.id, tt.role)
		if err != nil {
			t.Fatalf("HasRole(%s) error = %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("HasRole(%s, %s) = %v, want %v", tt.id, tt.role, got, tt.want)
		}
	}
}

func TestUserCasdoor_GetByIDUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	dir := newFakeDirectory()
	repo := newUserCasdoor(dir, cache.NewCacheManager(client).User)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		user, err := repo.GetByID(ctx, "t1")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if user.Role != models.RoleTeacher {
			t.Errorf("GetByID() role = %v", user.Role)
		}
	}
	if dir.calls != 1 {
		t.Errorf("directory called %d times, want 1", dir.calls)
	}
	if !mr.Exists("user:id:t1") {
		t.Errorf("cached keys = %v, want user:id:t1", mr.Keys())
	}

	_, err := repo.GetByID(ctx, "nobody")
	if !errors.Is(err, repositories.ErrUserNotFound) {
		t.Errorf("GetByID(nobody) error = %v, want ErrUserNotFound", err)
	}
	exists, err := repo.ExistsByID(ctx, "nobody")
	if err != nil || exists {
		t.Errorf("ExistsByID(nobody) = %v, %v", exists, err)
	}
}
