package user

import (
	"errors"

	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&UserModel{}, &RoleModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(u *UserModel) error {
	return s.db.Save(u).Error
}

func (s *Store) SaveRole(r *RoleModel) error {
	return s.db.Save(r).Error
}

func (s *Store) ByID(id string) (*UserModel, error) {
	var u UserModel
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// ByTag resolves a mention tag to a user, nil if unknown. Unknown tags are not
// an error: a message may mention users that no longer exist.
func (s *Store) ByTag(tag string) (*UserModel, error) {
	var u UserModel
	if err := s.db.First(&u, "tag = ?", tag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) RoleByTag(tag string) (*RoleModel, error) {
	var r RoleModel
	if err := s.db.First(&r, "tag = ?", tag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) Delete(id string) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}
