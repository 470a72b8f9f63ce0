package db

import (
	"context"
	"strings"

	"github.com/sambigeara/messagecat/pkg/types"
)

const userColumns = "user_id, username, password, display_name, date_created, profile_picture_path"

func scanUser(row scanner) (types.User, error) {
	var u types.User
	err := row.Scan(&u.UserID, &u.Username, &u.Password, &u.DisplayName, &u.DateCreated, &u.ProfilePicturePath)
	return u, err
}

func (s *Store) UserByID(ctx context.Context, id int) (types.User, error) {
	return queryOne(ctx, s, scanUser, "SELECT "+userColumns+" FROM users WHERE user_id = ?", id)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (types.User, error) {
	return queryOne(ctx, s, scanUser, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// UsersByDisplayName returns every user whose display name starts with prefix.
func (s *Store) UsersByDisplayName(ctx context.Context, prefix string) ([]types.User, error) {
	return queryAll(ctx, s, scanUser,
		"SELECT "+userColumns+" FROM users WHERE display_name LIKE ? ESCAPE '\\' ORDER BY user_id",
		escapeLike(prefix)+"%")
}

// AddUser inserts u with a fresh id. The password must already be hashed
// and DateCreated set by the caller.
func (s *Store) AddUser(ctx context.Context, u types.User) (types.User, error) {
	id, err := s.insert(ctx,
		"INSERT INTO users (username, password, display_name, date_created, profile_picture_path) VALUES (?, ?, ?, ?, ?)",
		u.Username, u.Password, u.DisplayName, u.DateCreated, u.ProfilePicturePath)
	if err != nil {
		return types.User{}, err
	}
	u.UserID = id
	return u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
