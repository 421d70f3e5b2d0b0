package casdoor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"

	"github.com/SAP-F-2025/attempt-service/internal/cache"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// userLookup is the part of the Casdoor client used by the directory
type userLookup interface {
	GetUserByUserId(userId string) (*casdoorsdk.User, error)
}

type UserCasdoor struct {
	client       userLookup
	cacheManager *cache.CacheManager
}

func NewUserCasdoor(config CasdoorConfig, cacheManager *cache.CacheManager) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:       client,
		cacheManager: cacheManager,
	}
}

// GetByID retrieves a user by ID, cached in redis
func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := u.cacheManager.User.CacheOrExecute(ctx, "id:"+id, &user, cache.UserCacheConfig.TTL, func() (interface{}, error) {
		casdoorUser, err := u.client.GetUserByUserId(id)
		if err != nil {
			return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
		}
		if casdoorUser == nil {
			return nil, fmt.Errorf("%w: user %s", repositories.ErrNotFound, id)
		}
		return ConvertUser(casdoorUser), nil
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// GetByIDs resolves what it can. Users that cannot be resolved are logged and skipped.
func (u *UserCasdoor) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		user, err := u.GetByID(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "Failed to resolve user", "user_id", id, "error", err)
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// ConvertUser maps a Casdoor user to the internal model
func ConvertUser(casdoorUser *casdoorsdk.User) *models.User {
	user := &models.User{
		ID:       casdoorUser.Id,
		FullName: casdoorUser.DisplayName,
		Email:    casdoorUser.Email,
		Role:     convertRoles(casdoorUser),
	}
	if casdoorUser.Avatar != "" {
		avatar := casdoorUser.Avatar
		user.AvatarURL = &avatar
	}
	return user
}

func convertRoles(casdoorUser *casdoorsdk.User) models.UserRole {
	if casdoorUser.IsAdmin {
		return models.RoleAdmin
	}

	var roles []models.UserRole
	for _, role := range casdoorUser.Roles {
		if role == nil {
			continue
		}
		roles = append(roles, MapRole(role.Name))
	}

	// admin wins, then teacher
	switch {
	case slices.Contains(roles, models.RoleAdmin):
		return models.RoleAdmin
	case slices.Contains(roles, models.RoleTeacher):
		return models.RoleTeacher
	case len(roles) == 0:
		return MapRole(casdoorUser.Type)
	default:
		return models.RoleStudent
	}
}

// MapRole maps a Casdoor role name or user type to an internal role
func MapRole(name string) models.UserRole {
	switch strings.ToLower(name) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "teacher", "instructor", "educator":
		return models.RoleTeacher
	default:
		return models.RoleStudent
	}
}
